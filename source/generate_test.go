package source

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/stream"
)

func TestSQL_RowsAsRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, host FROM hits WHERE day = \\$1").
		WithArgs("2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "host"}).
			AddRow(int64(1), []byte("a.example")).
			AddRow(int64(2), "b.example").
			AddRow(int64(3), "c.example"))

	got, err := stream.Collect(context.Background(), SQL(db, "SELECT id, host FROM hits WHERE day = $1", 2, "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{
		map[string]any{"id": int64(1), "host": "a.example"},
		map[string]any{"id": int64(2), "host": "b.example"},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation missing"))

	_, err = stream.Collect(context.Background(), SQL(db, "SELECT 1", 0))
	require.ErrorContains(t, err, "relation missing")
}

func TestFaker_MaxSize(t *testing.T) {
	n := 0
	gen := func() (stream.Item, error) { n++; return n, nil }
	got, err := stream.Collect(context.Background(), Faker(gen, FakerOptions{MaxSize: 3, Rate: 1000, Burst: 3}))
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{1, 2, 3}, got)
}

func TestMemory(t *testing.T) {
	got, err := stream.Collect(context.Background(), Memory("x", 2))
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{"x", 2}, got)
}

func TestSocket_SplitsLinesAcrossReads(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	go func() {
		c, err := lis.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("one\ntw"))
		time.Sleep(30 * time.Millisecond)
		c.Write([]byte("o\nthree\nunfinished"))
	}()

	got, err := stream.Collect(context.Background(), Socket(lis.Addr().String(), 10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{"one", "two", "three"}, got)
}

func TestSocket_DialFailureIsFatal(t *testing.T) {
	_, err := stream.Collect(context.Background(), Socket("unix:/nonexistent/streamline.sock", 0))
	require.Error(t, err)
}
