// Package store implements C10: the analytics persistence writer behind
// Dispatcher's Store/FeedbackWriter interfaces.
//
// No teacher equivalent exists (the teacher proxies requests and never
// persists them). Grounded on haasonsaas-nexus's internal/sessions —
// prepared-statement sql.DB wrapper, DSN-based constructor, sqlmock-backed
// tests — generalized from CockroachDB/postgres to modernc.org/sqlite (pure
// Go, no cgo, standing in for the out-of-scope OLAP analytics store the
// spec's original targets) since this gateway has no external database
// dependency to assume. Async-insert/flush semantics (spec §4.10) are
// modeled with an in-process pending-write counter rather than a real
// batching queue, since a single-process sqlite file has no server-side
// batching to emulate; FlushAsyncInsert blocks until that counter drains.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaygate/relaygate/internal/content"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/providers"
)

// Schema is the bootstrap DDL internal/migration's Migration0000 applies.
// Exported so the migration manager has one schema source to track instead
// of a second copy that could drift from what Open actually creates.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_inference (
	id TEXT PRIMARY KEY,
	episode_id TEXT NOT NULL,
	function_name TEXT NOT NULL,
	variant_name TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	raw_request TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	tags TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS json_inference (
	id TEXT PRIMARY KEY,
	episode_id TEXT NOT NULL,
	function_name TEXT NOT NULL,
	variant_name TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	raw_request TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	tags TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS model_inference (
	id TEXT PRIMARY KEY,
	inference_id TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	raw_request TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS boolean_metric_feedback (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS float_metric_feedback (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS comment_feedback (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS demonstration_feedback (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_tag (
	feedback_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL
);
`

// metricNameComment/metricNameDemonstration are the literal metric_name
// values spec §4.10 assigns to the two feedback kinds with no caller-chosen
// metric name.
const (
	metricNameComment       = "comment"
	metricNameDemonstration = "demonstration"
)

// Store is the sqlite-backed implementation of internal/inference.Store and
// internal/inference.FeedbackWriter.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	pending int
	drained chan struct{}
}

// Open creates (or attaches to) a sqlite database at dsn and ensures the
// schema above exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	return &Store{db: db, drained: make(chan struct{})}, nil
}

// DB exposes the underlying handle for internal/migration, which operates
// on *sql.DB directly rather than through Store's own methods.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) beginAsync() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
}

func (s *Store) endAsync() {
	s.mu.Lock()
	s.pending--
	drained := s.pending == 0
	var notify chan struct{}
	if drained {
		notify = s.drained
		s.drained = make(chan struct{})
	}
	s.mu.Unlock()
	if notify != nil {
		close(notify)
	}
}

// FlushAsyncInsert blocks until every insert started before this call has
// completed, per spec §4.10's "flush_async_insert is the only ordering
// guarantee between a write and a subsequent read".
func (s *Store) FlushAsyncInsert(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return nil
	}
	wait := s.drained
	s.mu.Unlock()
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordInference implements internal/inference.Store. Every call inserts a
// model_inference row (the per-provider-call log) plus one chat_inference or
// json_inference row, chosen by the function's type, per spec §4.10.
func (s *Store) RecordInference(ctx context.Context, rec inference.InferenceRecord) error {
	s.beginAsync()
	defer s.endAsync()

	inputJSON, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal inference input: %w", err)
	}
	outputJSON, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal inference output: %w", err)
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal inference tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inference insert: %w", err)
	}
	defer tx.Rollback()

	table := "chat_inference"
	if rec.FunctionType == providers.FunctionJSON {
		table = "json_inference"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, episode_id, function_name, variant_name, provider_name,
			input, output, input_tokens, output_tokens, raw_request, raw_response, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		rec.InferenceID.String(), rec.EpisodeID.String(), rec.FunctionName, rec.VariantName, rec.ProviderName,
		string(inputJSON), string(outputJSON), rec.Usage.InputTokens, rec.Usage.OutputTokens,
		rec.RawRequest, rec.RawResponse, string(tagsJSON), rec.Timestamp,
	); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}

	modelRowID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate model_inference id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_inference (id, inference_id, provider_name, input_tokens, output_tokens, raw_request, raw_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		modelRowID.String(), rec.InferenceID.String(), rec.ProviderName, rec.Usage.InputTokens, rec.Usage.OutputTokens,
		rec.RawRequest, rec.RawResponse, rec.Timestamp,
	); err != nil {
		return fmt.Errorf("insert model_inference: %w", err)
	}

	return tx.Commit()
}

// RecordFeedback implements internal/inference.FeedbackWriter: it routes to
// one of the four feedback tables by the dynamic type of in.Value, then
// explodes in.Tags into the denormalized feedback_tag projection per spec
// §4.10.
func (s *Store) RecordFeedback(ctx context.Context, feedbackID uuid.UUID, in inference.FeedbackInput) error {
	s.beginAsync()
	defer s.endAsync()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	metricName := in.MetricName

	switch v := in.Value.(type) {
	case bool:
		val := 0
		if v {
			val = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO boolean_metric_feedback (id, target_id, metric_name, value, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			feedbackID.String(), in.TargetID.String(), metricName, val, now); err != nil {
			return fmt.Errorf("insert boolean_metric_feedback: %w", err)
		}
	case float64:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO float_metric_feedback (id, target_id, metric_name, value, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			feedbackID.String(), in.TargetID.String(), metricName, v, now); err != nil {
			return fmt.Errorf("insert float_metric_feedback: %w", err)
		}
	case content.Message:
		metricName = metricNameDemonstration
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal demonstration value: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO demonstration_feedback (id, target_id, value, created_at)
			VALUES (?, ?, ?, ?)`,
			feedbackID.String(), in.TargetID.String(), string(raw), now); err != nil {
			return fmt.Errorf("insert demonstration_feedback: %w", err)
		}
	case string:
		metricName = metricNameComment
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_feedback (id, target_id, value, created_at)
			VALUES (?, ?, ?, ?)`,
			feedbackID.String(), in.TargetID.String(), v, now); err != nil {
			return fmt.Errorf("insert comment_feedback: %w", err)
		}
	default:
		return fmt.Errorf("unsupported feedback value type %T", in.Value)
	}

	for key, value := range in.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feedback_tag (feedback_id, metric_name, key, value) VALUES (?, ?, ?, ?)`,
			feedbackID.String(), metricName, key, value); err != nil {
			return fmt.Errorf("insert feedback_tag: %w", err)
		}
	}

	return tx.Commit()
}
