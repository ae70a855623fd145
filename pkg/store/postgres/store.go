// Package postgres persists call reports.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = core.NewNotFoundError("call report not found")

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// Store is a call report repository backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Options tunes Open. Zero values use the defaults.
type Options struct {
	// ConnectTimeout bounds the initial ping retries. Default: 30s.
	ConnectTimeout time.Duration
	MaxConns       int32
}

// Open connects, waits for the database to answer and applies migrations.
func Open(ctx context.Context, url string, logger *slog.Logger, opts Options) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := ping(ctx, pool, logger, opts.ConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, limit time.Duration) error {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = limit
	var lastErr error
	op := func() error {
		lastErr = pool.Ping(ctx)
		if lastErr != nil {
			logger.Warn("database not ready", "err", lastErr)
		}
		return lastErr
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("ping database: %w", lastErr)
	}
	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Record inserts report, replacing an earlier report for the same session.
func (s *Store) Record(ctx context.Context, r types.CallReport) error {
	timeline, err := json.Marshal(nonNil(r.Timeline))
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	alerts, err := json.Marshal(nonNil(r.Alerts))
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_reports (
			session_id, started_at, ended_at, end_reason, fallback, current_step,
			completed_steps, missed_steps, timeline, sentiment, engagement, alerts, suggestion_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			end_reason = EXCLUDED.end_reason,
			fallback = EXCLUDED.fallback,
			current_step = EXCLUDED.current_step,
			completed_steps = EXCLUDED.completed_steps,
			missed_steps = EXCLUDED.missed_steps,
			timeline = EXCLUDED.timeline,
			sentiment = EXCLUDED.sentiment,
			engagement = EXCLUDED.engagement,
			alerts = EXCLUDED.alerts,
			suggestion_count = EXCLUDED.suggestion_count`,
		r.SessionID, r.StartedAt.UTC(), r.EndedAt.UTC(), string(r.EndReason), r.Fallback, r.CurrentStep,
		nonNil(r.CompletedSteps), nonNil(r.MissedSteps), timeline, string(r.Sentiment), r.Engagement, alerts, r.SuggestionCount,
	)
	if err != nil {
		return fmt.Errorf("insert call report: %w", err)
	}
	s.logger.Debug("call report saved", "session_id", r.SessionID, "completed", len(r.CompletedSteps))
	return nil
}

const selectReport = `
	SELECT session_id, started_at, ended_at, end_reason, fallback, current_step,
	       completed_steps, missed_steps, timeline, sentiment, engagement, alerts, suggestion_count
	FROM call_reports`

// Get returns the report for sessionID or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (types.CallReport, error) {
	row := s.pool.QueryRow(ctx, selectReport+` WHERE session_id = $1`, sessionID)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.CallReport{}, ErrNotFound
	}
	return r, err
}

// Recent returns up to limit reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.CallReport, error) {
	rows, err := s.pool.Query(ctx, selectReport+` ORDER BY ended_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query call reports: %w", err)
	}
	defer rows.Close()

	out := []types.CallReport{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (types.CallReport, error) {
	var (
		r                 types.CallReport
		reason, sentiment string
		timeline, alerts  []byte
	)
	err := row.Scan(
		&r.SessionID, &r.StartedAt, &r.EndedAt, &reason, &r.Fallback, &r.CurrentStep,
		&r.CompletedSteps, &r.MissedSteps, &timeline, &sentiment, &r.Engagement, &alerts, &r.SuggestionCount,
	)
	if err != nil {
		return types.CallReport{}, err
	}
	r.EndReason = types.EndReason(reason)
	r.Sentiment = types.Sentiment(sentiment)
	if err := json.Unmarshal(timeline, &r.Timeline); err != nil {
		return types.CallReport{}, fmt.Errorf("decode timeline: %w", err)
	}
	if err := json.Unmarshal(alerts, &r.Alerts); err != nil {
		return types.CallReport{}, fmt.Errorf("decode alerts: %w", err)
	}
	return r, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, maxRecentLimit)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
