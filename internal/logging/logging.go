package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

type Options struct {
	Level string
	JSON  bool
	// Out defaults to stderr.
	Out io.Writer
}

var def atomic.Value

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := slog.NewTextHandler(os.Stderr, cfg)
	def.Store(slog.New(h))
}

func Configure(opts Options) {
	lvl := parseLevel(opts.Level)
	cfg := &slog.HandlerOptions{Level: lvl}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	def.Store(slog.New(h))
}

// Use swaps the process logger; tests point it at a buffer.
func Use(l *slog.Logger) {
	if l != nil {
		def.Store(l)
	}
}

func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component is L() tagged with the component that logs.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// TraceID tags a failure so the log line and the failure record can be matched.
func TraceID() string {
	return uuid.NewString()
}

func InitFromEnv() {
	lvl := os.Getenv("STREAMLINE_LOG_LEVEL")
	jsonStr := os.Getenv("STREAMLINE_LOG_JSON")
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(jsonStr)); err == nil {
		json = b
	}
	Configure(Options{Level: lvl, JSON: json})
}
