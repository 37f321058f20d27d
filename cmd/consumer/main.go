// Command consumer persists the job transition stream published by consoles
// into the Postgres journal.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/driver-console-sync/internal/config"
	"github.com/example/driver-console-sync/internal/ingest"
	"github.com/example/driver-console-sync/internal/logging"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/storage"
)

// transitionsHandled counts records by result: stored, invalid or failed.
var transitionsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "driver_console",
	Subsystem: "consumer",
	Name:      "transitions_total",
	Help:      "Job transition records handled, by result.",
}, []string{"result"})

func main() {
	opsAddr := flag.String("ops-addr", ":2112", "listen address for /metrics, /healthz and /ready")
	flag.Parse()

	cfg, err := config.LoadConsoleConfig()
	logger := logging.NewLogger(cfg.LogLevel).With("component", "consumer")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PGDSN == "" {
		logger.Error("PG_DSN is required")
		os.Exit(1)
	}
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := storage.NewPostgresJournal(cfg.PGDSN)
	if err != nil {
		logger.Error("journal unavailable", "error", err)
		os.Exit(1)
	}
	defer journal.Close()
	if err := journal.EnsureSchema(ctx); err != nil {
		logger.Error("journal schema", "error", err)
		os.Exit(1)
	}

	ops := opsServer(*opsAddr, journal)
	go func() {
		logger.Info("ops server listening", "addr", *opsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("ops server stopped", "error", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	defer reader.Close()

	logger.Info("consuming transitions", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroup, "brokers", brokers)
	consume(ctx, reader, journal, logger, time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)
	logger.Info("consumer stopped")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func opsServer(addr string, journal pinger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := journal.Ping(ctx); err != nil {
			http.Error(w, "journal unreachable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type transitionWriter interface {
	Append(ctx context.Context, t models.Transition) error
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// consume runs until ctx ends. A message is committed only after it was
// handled, so a crash in between redelivers it.
func consume(ctx context.Context, r messageReader, w transitionWriter, log warnLogger, retry time.Duration) {
	const maxRetry = 30 * time.Second
	wait := retry
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("kafka fetch failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, maxRetry)
			continue
		}
		wait = retry
		handleMessage(ctx, w, m, log)
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.Warn("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// handleMessage decodes one record and journals it. It reports whether the
// record was stored.
func handleMessage(ctx context.Context, w transitionWriter, m kafka.Message, log warnLogger) bool {
	t, err := ingest.DecodeTransition(m)
	if err != nil {
		transitionsHandled.WithLabelValues("invalid").Inc()
		log.Warn("invalid transition record", "partition", m.Partition, "offset", m.Offset, "error", err)
		return false
	}
	if err := writeWithRetry(ctx, w, t, 3, 200*time.Millisecond); err != nil {
		transitionsHandled.WithLabelValues("failed").Inc()
		log.Warn("journal write failed", "job_id", t.JobID, "to", t.To, "error", err)
		return false
	}
	transitionsHandled.WithLabelValues("stored").Inc()
	return true
}

// writeWithRetry appends t, retrying with a doubling delay. Appends are
// idempotent.
func writeWithRetry(ctx context.Context, w transitionWriter, t models.Transition, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Append(ctx, t); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
