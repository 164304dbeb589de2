package migration

import (
	"context"
	"database/sql"

	"github.com/relaygate/relaygate/internal/store"
)

// bootstrapTables lists every table Migration0000 is responsible for,
// mirroring migration_0000.rs's table list (BooleanMetricFeedback,
// CommentFeedback, DemonstrationFeedback, FloatMetricFeedback,
// ChatInference, JsonInference, ModelInference) translated to this
// gateway's lower_snake_case sqlite names.
var bootstrapTables = []string{
	"boolean_metric_feedback", "comment_feedback", "demonstration_feedback",
	"float_metric_feedback", "chat_inference", "json_inference", "model_inference",
}

// Migration0000 creates the bootstrap schema internal/store.Store depends
// on. Grounded on migration_0000.rs: can_apply is trivially satisfied (no
// preconditions for a from-scratch bootstrap), should_apply checks whether
// every table already exists, and apply runs the same DDL
// internal/store.Open applies directly, so a deployment that tracks
// migrations explicitly and one that just calls store.Open converge on an
// identical schema.
type Migration0000 struct {
	DB *sql.DB
}

func (m *Migration0000) ID() string { return "0000" }

func (m *Migration0000) CanApply(ctx context.Context) error { return nil }

func (m *Migration0000) ShouldApply(ctx context.Context) (bool, error) {
	for _, table := range bootstrapTables {
		exists, err := tableExists(ctx, m.DB, table)
		if err != nil {
			// Mirrors the original: a failed existence check means the
			// database itself likely doesn't exist yet, so the migration
			// needs to run.
			return true, nil
		}
		if !exists {
			return true, nil
		}
	}
	return false, nil
}

func (m *Migration0000) Apply(ctx context.Context, cleanStart bool) error {
	_, err := m.DB.ExecContext(ctx, store.Schema)
	return err
}

func (m *Migration0000) HasSucceeded(ctx context.Context) (bool, error) {
	apply, err := m.ShouldApply(ctx)
	if err != nil {
		return false, err
	}
	return !apply, nil
}

func (m *Migration0000) RollbackInstructions() string {
	return "DROP TABLE IF EXISTS chat_inference, json_inference, model_inference, " +
		"boolean_metric_feedback, float_metric_feedback, comment_feedback, demonstration_feedback, feedback_tag;"
}

// Migration0001 adds the lookup index feedback reads need once
// feedback_tag has real volume. It receives clean_start from
// Migration0000: on a clean bootstrap there are no legacy feedback_tag
// rows to index around, so nothing extra is required; a future migration
// that needs to special-case pre-index rows would branch on cleanStart
// here, same as migration_0001.rs does for its own legacy-row cutover.
type Migration0001 struct {
	DB *sql.DB
}

func (m *Migration0001) ID() string { return "0001" }

func (m *Migration0001) CanApply(ctx context.Context) error {
	exists, err := tableExists(ctx, m.DB, "feedback_tag")
	if err != nil {
		return err
	}
	if !exists {
		return errTableMissing("feedback_tag", "0001")
	}
	return nil
}

func (m *Migration0001) ShouldApply(ctx context.Context) (bool, error) {
	exists, err := indexExists(ctx, m.DB, "idx_feedback_tag_metric_key")
	if err != nil {
		return true, nil
	}
	return !exists, nil
}

func (m *Migration0001) Apply(ctx context.Context, cleanStart bool) error {
	_, err := m.DB.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_feedback_tag_metric_key ON feedback_tag(metric_name, key)`)
	return err
}

func (m *Migration0001) HasSucceeded(ctx context.Context) (bool, error) {
	apply, err := m.ShouldApply(ctx)
	if err != nil {
		return false, err
	}
	return !apply, nil
}

func (m *Migration0001) RollbackInstructions() string {
	return "DROP INDEX IF EXISTS idx_feedback_tag_metric_key;"
}

func indexExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='index' AND name=?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func errTableMissing(table, migrationID string) error {
	return &tableMissingError{table: table, migrationID: migrationID}
}

type tableMissingError struct {
	table       string
	migrationID string
}

func (e *tableMissingError) Error() string {
	return "migration " + e.migrationID + ": required table " + e.table + " does not exist"
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
