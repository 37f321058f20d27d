package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	periods []time.Duration
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	c.periods = append(c.periods, d)
	return t
}

func (c *fakeClock) ticker(i int) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[i]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for poll")
	}
}

func TestDoubleStartFetchesOncePerTick(t *testing.T) {
	clock := &fakeClock{}
	s := New(context.Background(), WithTicker(clock.NewTicker), WithLogger(quietLogger()))
	defer s.StopAll()

	fetched := make(chan struct{}, 10)
	task := Task{Interval: 5 * time.Second, OnPoll: func(context.Context) error {
		fetched <- struct{}{}
		return nil
	}}

	if ok, err := s.Start("jobs", task); !ok || err != nil {
		t.Fatalf("first start: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Start("jobs", task); ok || err != nil {
		t.Fatalf("second start should be a no-op: ok=%v err=%v", ok, err)
	}
	if clock.count() != 1 {
		t.Fatalf("expected one ticker, got %d", clock.count())
	}
	if clock.periods[0] != 5*time.Second {
		t.Fatalf("expected 5s interval, got %s", clock.periods[0])
	}

	clock.ticker(0).c <- time.Now()
	waitFor(t, fetched)
	select {
	case <-fetched:
		t.Fatalf("expected exactly one fetch for one tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestImmediateRunsBeforeFirstTick(t *testing.T) {
	clock := &fakeClock{}
	s := New(context.Background(), WithTicker(clock.NewTicker), WithLogger(quietLogger()))
	defer s.StopAll()

	fetched := make(chan struct{}, 1)
	_, err := s.Start("requests", Task{Interval: time.Second, Immediate: true, OnPoll: func(context.Context) error {
		fetched <- struct{}{}
		return nil
	}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, fetched)
}

func TestFailureWaitsForNextTick(t *testing.T) {
	clock := &fakeClock{}
	s := New(context.Background(), WithTicker(clock.NewTicker), WithLogger(quietLogger()))
	defer s.StopAll()

	var mu sync.Mutex
	calls := 0
	fetched := make(chan struct{}, 10)
	_, _ = s.Start("messages", Task{Interval: time.Second, OnPoll: func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		fetched <- struct{}{}
		return errors.New("boom")
	}})

	clock.ticker(0).c <- time.Now()
	waitFor(t, fetched)
	select {
	case <-fetched:
		t.Fatalf("failed poll must not retry before the next tick")
	case <-time.After(50 * time.Millisecond):
	}
	clock.ticker(0).c <- time.Now()
	waitFor(t, fetched)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestStopCancelsAndAllowsRestart(t *testing.T) {
	clock := &fakeClock{}
	s := New(context.Background(), WithTicker(clock.NewTicker), WithLogger(quietLogger()))
	defer s.StopAll()

	task := Task{Interval: time.Second, OnPoll: func(context.Context) error { return nil }}
	_, _ = s.Start("listings", task)
	if !s.Running("listings") {
		t.Fatalf("expected listings running")
	}
	s.Stop("listings")
	if s.Running("listings") {
		t.Fatalf("expected listings stopped")
	}
	if !clock.ticker(0).isStopped() {
		t.Fatalf("expected ticker stopped")
	}
	s.Stop("listings")

	if ok, _ := s.Start("listings", task); !ok {
		t.Fatalf("expected restart after stop")
	}
	if clock.count() != 2 {
		t.Fatalf("expected a fresh ticker, got %d", clock.count())
	}
}

func TestStopAllRefusesNewTasks(t *testing.T) {
	clock := &fakeClock{}
	s := New(context.Background(), WithTicker(clock.NewTicker), WithLogger(quietLogger()))

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	_, _ = s.Start("jobs", Task{Interval: time.Second, Immediate: true, OnPoll: func(ctx context.Context) error {
		entered <- struct{}{}
		select {
		case <-ctx.Done():
		case <-block:
		}
		return ctx.Err()
	}})
	_, _ = s.Start("notifications", Task{Interval: time.Second, OnPoll: func(context.Context) error { return nil }})
	waitFor(t, entered)

	s.StopAll()
	if s.Len() != 0 {
		t.Fatalf("expected no tasks, got %d", s.Len())
	}
	if _, err := s.Start("jobs", Task{Interval: time.Second, OnPoll: func(context.Context) error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	close(block)
}

func TestStartRejectsBadTask(t *testing.T) {
	s := New(context.Background())
	defer s.StopAll()
	if _, err := s.Start("x", Task{OnPoll: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := s.Start("x", Task{Interval: time.Second}); err == nil {
		t.Fatalf("expected error for missing callback")
	}
}
