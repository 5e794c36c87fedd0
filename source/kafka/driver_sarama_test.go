package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"streamline/stream"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MemberID() string         { return "m-1" }
func (s *fakeSession) GenerationID() int32      { return 1 }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

func (s *fakeSession) Marked() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

type fakeGroup struct {
	sarama.ConsumerGroup
	sess  *fakeSession
	claim *fakeClaim
	once  sync.Once
	errs  chan error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	ran := false
	g.once.Do(func() {
		ran = true
		g.sess.ctx = ctx
		_ = h.Setup(g.sess)
		_ = h.ConsumeClaim(g.sess, g.claim)
		_ = h.Cleanup(g.sess)
	})
	if !ran {
		<-ctx.Done()
	}
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error         { return nil }

func newFake(values ...string) *fakeGroup {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{Topic: "logs", Partition: 0, Offset: int64(i), Value: []byte(v)}
	}
	close(ch)
	return &fakeGroup{sess: &fakeSession{}, claim: &fakeClaim{ch: ch}, errs: make(chan error)}
}

func TestSaramaDriver_EmitsUntilEOFAndMarksAfterPull(t *testing.T) {
	g := newFake("a", "b", "<eof>", "ignored")
	cfg := Config{CommitMode: CommitE2E, EOF: "<eof>", Wait: 10 * time.Millisecond}
	applyDefaults(&cfg)
	d := &SaramaDriver{cfg: cfg, group: g}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	for ev, err := range stream.NewSource(d).Events(ctx) {
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if ev.IsSignal() {
			continue
		}
		m := ev.Item.(Message)
		if marked := g.sess.Marked(); len(marked) != len(got) {
			t.Fatalf("message %d marked before the pipeline finished with it: %v", m.Offset, marked)
		}
		got = append(got, string(m.Value))
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected values: %v", got)
	}
	if marked := g.sess.Marked(); len(marked) != 3 {
		t.Fatalf("want a, b and the eof marker marked, got %v", marked)
	}
}

func TestSaramaDriver_AutoCommitMarksOnReceipt(t *testing.T) {
	g := newFake("x")
	cfg := Config{Wait: 10 * time.Millisecond}
	applyDefaults(&cfg)
	d := &SaramaDriver{cfg: cfg, group: g}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for ev, err := range stream.NewSource(d).Events(ctx) {
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if ev.IsSignal() {
			continue
		}
		if marked := g.sess.Marked(); len(marked) != 1 {
			t.Fatalf("auto mode should mark before emitting, got %v", marked)
		}
		break
	}
}

func TestNewAdapter_UnknownDriver(t *testing.T) {
	if _, err := NewAdapter("kgo"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	a, err := NewAdapter("")
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := a.(*SaramaDriver); !ok {
		t.Fatalf("default driver is %T", a)
	}
}
