package pgexporter

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	jsoniter "github.com/json-iterator/go"

	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Storage persists exported telemetry.
type Storage interface {
	SetMetrics(ctx context.Context, metrics []models.MetricsDTO) error
	SaveSpans(ctx context.Context, spans []models.Span) error
	SaveLogs(ctx context.Context, logs []models.LogRecord) error
	Ping(ctx context.Context) error
	Close() error
}

// DBStorage is Storage on a Postgres database opened through pgx.
type DBStorage struct {
	db *sql.DB
}

// NewDBStorage opens dsn with the pgx driver.
func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DBStorage{db: dbConnect}, nil
}

// DB exposes the handle for migrations.
func (storage *DBStorage) DB() *sql.DB {
	return storage.db
}

func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

const upsertMetric = `
INSERT INTO metrics (name, type, value, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (name) DO UPDATE SET
    type = EXCLUDED.type,
    value = CASE WHEN EXCLUDED.type = 'counter' AND metrics.type = 'counter'
                 THEN metrics.value + EXCLUDED.value
                 ELSE EXCLUDED.value END,
    updated_at = NOW()`

// SetMetrics upserts a batch in one transaction: counters add their delta,
// gauges overwrite.
func (storage *DBStorage) SetMetrics(ctx context.Context, metrics []models.MetricsDTO) error {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertMetric)
	if err != nil {
		return fmt.Errorf("error preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		var value float64
		switch metric.MType {
		case models.Counter:
			if metric.Delta == nil {
				continue
			}
			value = float64(*metric.Delta)
		case models.Gauge:
			if metric.Value == nil {
				continue
			}
			value = *metric.Value
		default:
			continue
		}
		if _, err := stmt.ExecContext(ctx, metric.ID, metric.MType, value); err != nil {
			return fmt.Errorf("error saving metric %s: %w", metric.ID, err)
		}
	}
	return tx.Commit()
}

func (storage *DBStorage) SaveSpans(ctx context.Context, spans []models.Span) error {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO spans (trace_id, span_id, parent_id, thread_id, name, kind, started_at, ended_at, status_code, attributes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, s := range spans {
		attrs, err := json.Marshal(s.Attributes)
		if err != nil {
			return fmt.Errorf("error encoding span attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, query, s.TraceID, s.SpanID, s.ParentID, int64(s.ThreadID), s.Name,
			s.Kind.String(), s.Start, s.End, s.StatusCode, string(attrs))
		if err != nil {
			return fmt.Errorf("error saving span: %w", err)
		}
	}
	return tx.Commit()
}

func (storage *DBStorage) SaveLogs(ctx context.Context, logs []models.LogRecord) error {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO logs (thread_id, ts, severity, severity_text, message, trace_id, span_id, attributes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, l := range logs {
		attrs, err := json.Marshal(l.Attributes)
		if err != nil {
			return fmt.Errorf("error encoding log attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, query, int64(l.ThreadID), l.Timestamp, l.Severity, l.SeverityText,
			l.Message, l.TraceID, l.SpanID, string(attrs))
		if err != nil {
			return fmt.Errorf("error saving log record: %w", err)
		}
	}
	return tx.Commit()
}

func (storage *DBStorage) Ping(ctx context.Context) error {
	err := storage.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
