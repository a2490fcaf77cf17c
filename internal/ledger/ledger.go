// Package ledger keeps one row per conversion job.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/upload"
)

const (
	StatusSucceeded = "SUCCEEDED"
	StatusRejected  = "REJECTED"
	StatusFailed    = "FAILED"
)

// Entry is one finished job.
type Entry struct {
	JobID      string
	Feature    string
	Status     string
	HTTPStatus int
	BytesOut   int64
	Duration   time.Duration
	RemoteAddr string
	FinishedAt time.Time
}

// Recorder stores entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Postgres writes entries to the conversions table.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects and migrates.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	const query = `
        INSERT INTO conversions (id, job_id, feature, status, http_status, bytes_out, duration_ms, remote_addr, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (job_id)
        DO UPDATE SET status = EXCLUDED.status, http_status = EXCLUDED.http_status,
                      bytes_out = EXCLUDED.bytes_out, duration_ms = EXCLUDED.duration_ms,
                      finished_at = EXCLUDED.finished_at;`
	_, err := p.pool.Exec(ctx, query,
		uuid.New(), e.JobID, e.Feature, e.Status, e.HTTPStatus,
		e.BytesOut, e.Duration.Milliseconds(), e.RemoteAddr, e.FinishedAt)
	return err
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
        CREATE TABLE IF NOT EXISTS conversions (
            id UUID PRIMARY KEY,
            job_id TEXT UNIQUE NOT NULL,
            feature TEXT NOT NULL,
            status TEXT NOT NULL,
            http_status INTEGER NOT NULL,
            bytes_out BIGINT NOT NULL DEFAULT 0,
            duration_ms BIGINT NOT NULL DEFAULT 0,
            remote_addr TEXT NOT NULL DEFAULT '',
            finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`
	_, err := pool.Exec(ctx, stmt)
	return err
}

// StatusFor classifies an HTTP answer.
func StatusFor(code int) string {
	switch {
	case code >= 500:
		return StatusFailed
	case code >= 400:
		return StatusRejected
	default:
		return StatusSucceeded
	}
}

// Middleware assigns the job ID, times the request and records the outcome
// once the handler (and the staging cleanup inside it) has returned.
func Middleware(rec Recorder, feature string, logger zerolog.Logger) func(http.Handler) http.Handler {
	if rec == nil {
		rec = Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jobID := uuid.NewString()
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Job-ID", jobID)

			next.ServeHTTP(ww, r.WithContext(upload.WithJobID(r.Context(), jobID)))

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			e := Entry{
				JobID:      jobID,
				Feature:    feature,
				Status:     StatusFor(code),
				HTTPStatus: code,
				BytesOut:   int64(ww.BytesWritten()),
				Duration:   time.Since(start),
				RemoteAddr: r.RemoteAddr,
				FinishedAt: time.Now().UTC(),
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()
			if err := rec.Record(ctx, e); err != nil {
				logger.Error().Err(err).Str("job_id", jobID).Str("feature", feature).Msg("ledger write failed")
			}
		})
	}
}
