// Package console wires the sync core into one driver session: the realtime
// channel and the poll tasks feed typed updates into a single queue, and one
// loop applies them to the reconciliation engine.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/example/driver-console-sync/internal/config"
	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/payments"
	"github.com/example/driver-console-sync/internal/poll"
	"github.com/example/driver-console-sync/internal/realtime"
	"github.com/example/driver-console-sync/internal/reconcile"
	"github.com/example/driver-console-sync/internal/session"
	"github.com/example/driver-console-sync/internal/storage"
)

// API is everything the session needs from the backend over HTTP.
type API interface {
	lifecycle.ActionAPI
	Approve(ctx context.Context, requestID models.ID) (*models.Job, error)
	Reject(ctx context.Context, requestID models.ID) error
	CounterOffer(ctx context.Context, requestID models.ID, price float64, message string) error
	FetchJobs(ctx context.Context) ([]models.Job, error)
	FetchRequests(ctx context.Context) ([]models.ApprovalRequest, error)
	FetchConversations(ctx context.Context) ([]models.Conversation, error)
	FetchMessages(ctx context.Context, conversationID models.ID) ([]conversation.Remote, error)
	FetchListings(ctx context.Context, kind models.ListingKind) ([]models.Listing, error)
	FetchNotifications(ctx context.Context) ([]models.Notification, error)
}

// TransitionPublisher forwards applied transitions, e.g. to Kafka.
type TransitionPublisher interface {
	Publish(ctx context.Context, t models.Transition) error
}

type Options struct {
	Identity session.Identity
	Role     string

	API     API
	Channel realtime.Channel

	Payments       payments.API // optional
	VerifyAttempts int
	VerifyInterval time.Duration

	Geocoder lifecycle.Geocoder          // optional
	Distance lifecycle.DistanceEstimator // optional

	Journal   storage.Journal     // optional
	Publisher TransitionPublisher // optional

	Polls            config.PollIntervals
	LocationInterval time.Duration
	Ticker           poll.TickerFunc // nil uses real tickers

	// Logger is tagged with the identity's user_id by New.
	Logger *slog.Logger
}

var (
	ErrClosed        = errors.New("console: session closed")
	ErrNotStarted    = errors.New("console: session not started")
	ErrPaymentFailed = errors.New("console: payment failed")
	ErrNoPayments    = errors.New("console: payments not configured")
)

const queueSize = 256

type op struct {
	u     reconcile.Update
	fn    func()
	then  func(reconcile.Result)
	reply chan reconcile.Result
}

// Session is one signed-in console. Create it with New, then Start it; Close
// tears everything down and discards results that arrive afterwards.
type Session struct {
	opts     Options
	identity session.Identity
	logger   *slog.Logger

	engine   *reconcile.Engine
	conv     *conversation.Store
	machine  *lifecycle.Machine
	verifier *payments.Verifier
	sched    *poll.Scheduler
	limiter  *rate.Limiter
	refresh  singleflight.Group

	queue       chan op
	transitions chan models.Transition

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	closed   bool
	handlers map[string]realtime.HandlerID
	wg       sync.WaitGroup
	sinkDone chan struct{}
}

func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", opts.Identity.UserID)
	if opts.Role == "" {
		opts.Role = session.DefaultRole
	}
	if opts.LocationInterval <= 0 {
		opts.LocationInterval = 5 * time.Second
	}
	conv := conversation.New(opts.Identity)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		identity: opts.Identity,
		logger:   logger,
		conv:     conv,
		engine:   reconcile.NewEngine(conv, logger),
		machine: &lifecycle.Machine{
			API:      opts.API,
			Geocoder: opts.Geocoder,
			Distance: opts.Distance,
			Logger:   logger,
		},
		limiter:     rate.NewLimiter(rate.Every(opts.LocationInterval), 1),
		queue:       make(chan op, queueSize),
		transitions: make(chan models.Transition, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		handlers:    make(map[string]realtime.HandlerID),
		sinkDone:    make(chan struct{}),
	}
	if opts.Payments != nil {
		s.verifier = &payments.Verifier{API: opts.Payments, Attempts: opts.VerifyAttempts, Interval: opts.VerifyInterval, Logger: logger}
	}
	schedOpts := []poll.Option{poll.WithLogger(logger)}
	if opts.Ticker != nil {
		schedOpts = append(schedOpts, poll.WithTicker(opts.Ticker))
	}
	s.sched = poll.New(ctx, schedOpts...)
	return s
}

// Start registers the event handlers, connects the realtime channel and
// starts the poll tasks. A failed connection is logged and the session keeps
// running on polls alone.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run()
	go s.sink()

	s.registerHandlers()
	if err := s.opts.Channel.Connect(ctx, s.identity, s.opts.Role); err != nil {
		s.logger.Warn("realtime connect failed; continuing on polls", "error", err)
	} else if s.opts.Role == session.DefaultRole {
		if err := s.opts.Channel.Emit(realtime.EmitDriverOnline, map[string]any{"driverId": s.identity.UserID}); err != nil {
			s.logger.Warn("driver_online emit failed", "error", err)
		}
	}
	return s.startPolls()
}

// Close stops every poll task, unregisters the handlers and disconnects.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	handlers := s.handlers
	s.handlers = make(map[string]realtime.HandlerID)
	s.mu.Unlock()

	s.cancel()
	s.sched.StopAll()
	for event, id := range handlers {
		s.opts.Channel.Off(event, id)
	}
	err := s.opts.Channel.Disconnect()
	s.wg.Wait()
	if started {
		close(s.transitions)
		<-s.sinkDone
	}
	s.logger.Info("console session closed")
	return err
}

// run is the single writer: every update is applied here, in queue order.
func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.queue:
			if s.ctx.Err() != nil {
				return
			}
			if o.fn != nil {
				o.fn()
				if o.reply != nil {
					o.reply <- reconcile.Result{}
				}
				continue
			}
			res := s.applyInLoop(o.u)
			if o.then != nil {
				o.then(res)
			}
			if o.reply != nil {
				o.reply <- res
			}
		}
	}
}

// applyInLoop must only be called from run.
func (s *Session) applyInLoop(u reconcile.Update) reconcile.Result {
	res := s.engine.Apply(u)
	for _, t := range res.Transitions {
		s.logger.Info("job transition", "job_id", t.JobID, "from", t.From, "to", t.To, "source", t.Source)
		select {
		case s.transitions <- t:
		default:
			s.logger.Warn("transition sink full; dropping", "job_id", t.JobID, "to", t.To)
		}
	}
	return res
}

func (s *Session) sink() {
	defer close(s.sinkDone)
	for t := range s.transitions {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if s.opts.Journal != nil {
			if err := s.opts.Journal.Append(ctx, t); err != nil {
				s.logger.Warn("journal append failed", "job_id", t.JobID, "error", err)
			}
		}
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.Publish(ctx, t); err != nil {
				s.logger.Warn("transition publish failed", "job_id", t.JobID, "error", err)
			}
		}
		cancel()
	}
}

// enqueue hands u to the loop without waiting. It reports false once the
// session is closed, in which case u is discarded.
func (s *Session) enqueue(o op) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.queue <- o:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) submit(u reconcile.Update) bool { return s.enqueue(op{u: u}) }

// apply hands u to the loop and waits for its result.
func (s *Session) apply(ctx context.Context, u reconcile.Update) (reconcile.Result, error) {
	return s.call(ctx, op{u: u, reply: make(chan reconcile.Result, 1)})
}

// exec runs fn on the loop and waits for it.
func (s *Session) exec(ctx context.Context, fn func()) error {
	_, err := s.call(ctx, op{fn: fn, reply: make(chan reconcile.Result, 1)})
	return err
}

func (s *Session) call(ctx context.Context, o op) (reconcile.Result, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return reconcile.Result{}, ErrNotStarted
	}
	if !s.enqueue(o) {
		return reconcile.Result{}, ErrClosed
	}
	select {
	case r := <-o.reply:
		return r, nil
	case <-s.ctx.Done():
		return reconcile.Result{}, ErrClosed
	case <-ctx.Done():
		return reconcile.Result{}, ctx.Err()
	}
}

// goTracked runs fn in a goroutine that Close waits for. It does nothing once
// the session is closing.
func (s *Session) goTracked(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// ---- reads ----

func (s *Session) Identity() session.Identity { return s.identity }

func (s *Session) Jobs() []models.Job { return s.engine.Jobs() }

func (s *Session) Job(id models.ID) (models.Job, bool) { return s.engine.Job(id) }

func (s *Session) Requests() []models.ApprovalRequest { return s.engine.Requests() }

func (s *Session) Listings(kind models.ListingKind) []models.Listing { return s.engine.Listings(kind) }

func (s *Session) Notifications() []models.Notification { return s.engine.Notifications() }

func (s *Session) Subscription() models.Subscription { return s.engine.Subscription() }

func (s *Session) Conversations() []models.Conversation { return s.conv.List() }

func (s *Session) Conversation(id models.ID) (models.Conversation, bool) { return s.conv.Get(id) }

// LegalActions lists the driver actions currently allowed on a job.
// Transitions returns the journaled status history of a job, oldest first.
// Without a journal there is none.
func (s *Session) Transitions(ctx context.Context, jobID models.ID) ([]models.Transition, error) {
	if s.opts.Journal == nil {
		return nil, nil
	}
	return s.opts.Journal.ForJob(ctx, jobID)
}

func (s *Session) LegalActions(id models.ID) []lifecycle.Action {
	j, ok := s.engine.Job(id)
	if !ok {
		return nil
	}
	return lifecycle.LegalActions(j)
}
