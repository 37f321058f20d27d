// Package poll runs independently configured interval tasks, one per
// resource key.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-console-sync/internal/observability"
)

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker for an interval.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func RealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// Task is one polling job.
type Task struct {
	Interval time.Duration
	// Immediate runs OnPoll once right after Start instead of waiting for the
	// first tick.
	Immediate bool
	OnPoll    func(ctx context.Context) error
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*running
	parent context.Context
	ticker TickerFunc
	logger *slog.Logger
	closed bool
}

type Option func(*Scheduler)

func WithTicker(f TickerFunc) Option { return func(s *Scheduler) { s.ticker = f } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New creates a scheduler whose tasks are cancelled when ctx is.
func New(ctx context.Context, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[string]*running),
		parent: ctx,
		ticker: RealTicker,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var ErrClosed = errors.New("poll: scheduler closed")

// Start runs task under key. Starting a key that is already running is a
// no-op and returns false.
func (s *Scheduler) Start(key string, task Task) (bool, error) {
	if task.Interval <= 0 || task.OnPoll == nil {
		return false, errors.New("poll: task needs a positive interval and a callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.tasks[key]; ok {
		return false, nil
	}
	ctx, cancel := context.WithCancel(s.parent)
	r := &running{cancel: cancel, done: make(chan struct{})}
	s.tasks[key] = r
	t := s.ticker(task.Interval)
	go s.run(ctx, key, task, t, r.done)
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, key string, task Task, t Ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	if task.Immediate {
		s.tick(ctx, key, task)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.tick(ctx, key, task)
		}
	}
}

// tick runs one fetch. A failure is logged and waits for the next natural
// tick; there is no retry or backoff.
func (s *Scheduler) tick(ctx context.Context, key string, task Task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := task.OnPoll(ctx)
	observability.PollDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		observability.PollRuns.WithLabelValues(key, "ok").Inc()
	case ctx.Err() != nil:
		observability.PollRuns.WithLabelValues(key, "cancelled").Inc()
	default:
		observability.PollRuns.WithLabelValues(key, "error").Inc()
		s.logger.Warn("poll failed", "key", key, "error", err)
	}
}

// Stop cancels the task under key and waits for it to exit. Unknown keys
// are ignored.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	r, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

// StopAll cancels every task and refuses further starts.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.closed = true
	tasks := s.tasks
	s.tasks = make(map[string]*running)
	s.mu.Unlock()
	for _, r := range tasks {
		r.cancel()
	}
	for _, r := range tasks {
		<-r.done
	}
}

func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
