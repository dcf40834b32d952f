// Package pgexporter stores telemetry in PostgreSQL. A single background
// writer owns the database so the agent loop never waits on it.
package pgexporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	"github.com/Schera-ole/telemetry-agent/internal/migration"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// DefaultRetryDelays are the pauses between attempts of one write.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

type job func(ctx context.Context, s Storage) error

// Exporter is an exporter.Exporter writing through a Storage.
type Exporter struct {
	storage Storage
	delays  []time.Duration
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Open connects to dsn, applies migrations and starts the writer.
func Open(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*Exporter, error) {
	storage, err := NewDBStorage(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migration.RunMigrations(ctx, storage.DB(), logger); err != nil {
		storage.Close()
		return nil, err
	}
	return New(storage, nil, 0, logger), nil
}

// New starts a writer over storage. queueSize <= 0 selects 64.
func New(storage Storage, delays []time.Duration, queueSize int, logger *zap.SugaredLogger) *Exporter {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		storage: storage,
		delays:  delays,
		logger:  logger,
		jobs:    make(chan job, queueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go e.run()
	return e
}

func (e *Exporter) ExportProcessMetrics(_ context.Context, cur, prev *metrics.ProcessSnapshot) error {
	batch := exporter.ProcessDTOs(cur, prev)
	return e.enqueue(func(ctx context.Context, s Storage) error { return s.SetMetrics(ctx, batch) })
}

func (e *Exporter) ExportThreadMetrics(_ context.Context, samples []metrics.ThreadSample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := exporter.ThreadDTOs(samples)
	return e.enqueue(func(ctx context.Context, s Storage) error { return s.SetMetrics(ctx, batch) })
}

func (e *Exporter) ExportSpans(_ context.Context, spans []models.Span) error {
	if len(spans) == 0 {
		return nil
	}
	return e.enqueue(func(ctx context.Context, s Storage) error { return s.SaveSpans(ctx, spans) })
}

func (e *Exporter) ExportLogs(_ context.Context, logs []models.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	return e.enqueue(func(ctx context.Context, s Storage) error { return s.SaveLogs(ctx, logs) })
}

func (e *Exporter) ExportLoopBlocked(_ context.Context, ev models.LoopBlocked) error {
	batch := []models.MetricsDTO{exporter.LoopBlockedDTO(ev)}
	return e.enqueue(func(ctx context.Context, s Storage) error { return s.SetMetrics(ctx, batch) })
}

func (e *Exporter) enqueue(j job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return internalerrors.ErrAgentStopped
	}
	select {
	case e.jobs <- j:
		return nil
	default:
		return internalerrors.ErrQueueFull
	}
}

// Close writes what is queued, retrying as usual, then closes the storage.
func (e *Exporter) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()
	<-e.done
	e.cancel()
	return e.storage.Close()
}

func (e *Exporter) run() {
	defer close(e.done)
	for j := range e.jobs {
		if err := e.write(j); err != nil {
			e.logger.Errorw("Error writing telemetry to database", "error", err)
		}
	}
}

func (e *Exporter) write(j job) error {
	var lastErr error
	for attempt := 0; attempt <= len(e.delays); attempt++ {
		if attempt > 0 {
			delay := e.delays[attempt-1]
			e.logger.Debugw("Retrying database write", "attempt", attempt, "delay", delay)
			time.Sleep(delay)
		}
		lastErr = j(e.ctx, e.storage)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed to write after %d attempts: %w", len(e.delays)+1, lastErr)
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.UniqueViolation ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected {
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset by peer")
}
