package migration

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockMigration mirrors original_source/gateway/src/clickhouse_migration_manager/mod.rs's
// own MockMigration test helper: every step is independently steerable and
// tracks whether it was called, so RunMigration's short-circuiting can be
// asserted precisely.
type mockMigration struct {
	canApplyErr      error
	shouldApply      bool
	shouldApplyErr   error
	applyErr         error
	hasSucceeded     bool
	hasSucceededErr  error
	cleanStartPassed bool

	canApplyCalled     bool
	shouldApplyCalled  bool
	applyCalled        bool
	hasSucceededCalled bool
}

func (m *mockMigration) ID() string { return "test" }

func (m *mockMigration) CanApply(ctx context.Context) error {
	m.canApplyCalled = true
	return m.canApplyErr
}

func (m *mockMigration) ShouldApply(ctx context.Context) (bool, error) {
	m.shouldApplyCalled = true
	return m.shouldApply, m.shouldApplyErr
}

func (m *mockMigration) Apply(ctx context.Context, cleanStart bool) error {
	m.applyCalled = true
	m.cleanStartPassed = cleanStart
	return m.applyErr
}

func (m *mockMigration) HasSucceeded(ctx context.Context) (bool, error) {
	m.hasSucceededCalled = true
	return m.hasSucceeded, m.hasSucceededErr
}

func (m *mockMigration) RollbackInstructions() string { return "-- rollback test" }

func TestRunMigrationHappyPath(t *testing.T) {
	m := &mockMigration{shouldApply: true, hasSucceeded: true}

	applied, err := RunMigration(context.Background(), m, true, discardLogger())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, m.canApplyCalled)
	assert.True(t, m.shouldApplyCalled)
	assert.True(t, m.applyCalled)
	assert.True(t, m.cleanStartPassed)
	assert.True(t, m.hasSucceededCalled)
}

func TestRunMigrationCanApplyFailsShortCircuits(t *testing.T) {
	m := &mockMigration{canApplyErr: errors.New("precondition missing"), shouldApply: true, hasSucceeded: true}

	applied, err := RunMigration(context.Background(), m, false, discardLogger())
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, m.canApplyCalled)
	assert.False(t, m.shouldApplyCalled)
	assert.False(t, m.applyCalled)
	assert.False(t, m.hasSucceededCalled)
}

func TestRunMigrationShouldApplyFalseShortCircuits(t *testing.T) {
	m := &mockMigration{shouldApply: false}

	applied, err := RunMigration(context.Background(), m, false, discardLogger())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, m.shouldApplyCalled)
	assert.False(t, m.applyCalled)
	assert.False(t, m.hasSucceededCalled)
}

func TestRunMigrationApplyFails(t *testing.T) {
	m := &mockMigration{shouldApply: true, applyErr: errors.New("ddl failed")}

	applied, err := RunMigration(context.Background(), m, false, discardLogger())
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, m.applyCalled)
	assert.False(t, m.hasSucceededCalled)
}

func TestRunMigrationHasSucceededFalse(t *testing.T) {
	m := &mockMigration{shouldApply: true, hasSucceeded: false}

	applied, err := RunMigration(context.Background(), m, false, discardLogger())
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, m.hasSucceededCalled)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigration0000ShouldApplyBeforeAndAfterBootstrap(t *testing.T) {
	db := openTestDB(t)
	m := &Migration0000{DB: db}

	apply, err := m.ShouldApply(context.Background())
	require.NoError(t, err)
	assert.True(t, apply, "should need to apply before the schema exists")

	require.NoError(t, m.Apply(context.Background(), true))

	apply, err = m.ShouldApply(context.Background())
	require.NoError(t, err)
	assert.False(t, apply, "should be a no-op once the schema exists")

	succeeded, err := m.HasSucceeded(context.Background())
	require.NoError(t, err)
	assert.True(t, succeeded)
}

func TestMigration0001RequiresFeedbackTagTable(t *testing.T) {
	db := openTestDB(t)
	m := &Migration0001{DB: db}

	err := m.CanApply(context.Background())
	assert.Error(t, err, "feedback_tag doesn't exist yet")

	require.NoError(t, (&Migration0000{DB: db}).Apply(context.Background(), true))
	assert.NoError(t, m.CanApply(context.Background()))
}

func TestMigration0001ShouldApplyBeforeAndAfterIndex(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, (&Migration0000{DB: db}).Apply(context.Background(), true))

	m := &Migration0001{DB: db}
	apply, err := m.ShouldApply(context.Background())
	require.NoError(t, err)
	assert.True(t, apply)

	require.NoError(t, m.Apply(context.Background(), true))

	apply, err = m.ShouldApply(context.Background())
	require.NoError(t, err)
	assert.False(t, apply)
}

// TestRunIdempotentReplay exercises spec property S8: replaying Run against
// an already-migrated store succeeds and leaves chat_inference defined once,
// and internal/store.Open still opens a fresh in-memory store.
func TestRunIdempotentReplay(t *testing.T) {
	db := openTestDB(t)
	migrations := []Migration{&Migration0000{DB: db}, &Migration0001{DB: db}}

	require.NoError(t, Run(context.Background(), migrations, discardLogger()))
	require.NoError(t, Run(context.Background(), migrations, discardLogger()))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chat_inference'`).Scan(&count))
	assert.Equal(t, 1, count)

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
}

func TestRunThreadsCleanStartFromFirstMigration(t *testing.T) {
	db := openTestDB(t)
	first := &mockMigration{shouldApply: true, hasSucceeded: true}
	second := &mockMigration{shouldApply: true, hasSucceeded: true}
	_ = db

	require.NoError(t, Run(context.Background(), []Migration{first, second}, discardLogger()))
	assert.True(t, second.cleanStartPassed, "clean_start from the first migration should thread to the second")
}
