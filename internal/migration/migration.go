// Package migration implements C11: ordered schema migrations against
// internal/store's sqlite database, each following the
// can_apply/should_apply/apply/has_succeeded/rollback_instructions contract.
//
// Grounded on original_source/gateway/src/clickhouse_migration_manager/mod.rs's
// run/run_migration orchestration, translated from async-trait Rust into a
// Go interface plus a slog-logging runner matching the teacher's own
// log/slog usage (internal/server/server.go, internal/handlers/proxy.go).
// Migrations target internal/store's sqlite schema instead of ClickHouse
// DDL, since that's the analytics store this gateway actually runs.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Migration is one schema change. CanApply checks preconditions (fatal if
// false); ShouldApply is the idempotency check; Apply performs the DDL;
// HasSucceeded is the post-condition check; RollbackInstructions returns a
// human-readable SQL snippet logged when any step fails.
type Migration interface {
	ID() string
	CanApply(ctx context.Context) error
	ShouldApply(ctx context.Context) (bool, error)
	Apply(ctx context.Context, cleanStart bool) error
	HasSucceeded(ctx context.Context) (bool, error)
	RollbackInstructions() string
}

// RunMigration runs one migration through its full contract, per spec
// §4.11. It returns (true, nil) if the migration applied and verified
// successfully, (false, nil) if ShouldApply reported nothing to do, and a
// non-nil error (with rollback instructions already logged) on any fatal
// step.
func RunMigration(ctx context.Context, m Migration, cleanStart bool, logger *slog.Logger) (bool, error) {
	if err := m.CanApply(ctx); err != nil {
		logger.Error("migration precondition check failed, rollback instructions follow", "id", m.ID(), "error", err, "rollback", m.RollbackInstructions())
		return false, gwerrors.Migration(m.ID(), fmt.Sprintf("precondition check failed: %v", err))
	}

	apply, err := m.ShouldApply(ctx)
	if err != nil {
		logger.Error("migration idempotency check failed, rollback instructions follow", "id", m.ID(), "error", err, "rollback", m.RollbackInstructions())
		return false, gwerrors.Migration(m.ID(), fmt.Sprintf("idempotency check failed: %v", err))
	}
	if !apply {
		return false, nil
	}

	logger.Info("applying migration", "id", m.ID())

	if err := m.Apply(ctx, cleanStart); err != nil {
		logger.Error("migration failed, rollback instructions follow", "id", m.ID(), "error", err, "rollback", m.RollbackInstructions())
		return false, gwerrors.Migration(m.ID(), fmt.Sprintf("apply failed: %v", err))
	}

	succeeded, err := m.HasSucceeded(ctx)
	if err != nil {
		logger.Error("migration verification failed, rollback instructions follow", "id", m.ID(), "error", err, "rollback", m.RollbackInstructions())
		return false, gwerrors.Migration(m.ID(), fmt.Sprintf("post-condition check failed: %v", err))
	}
	if !succeeded {
		logger.Error("migration success check failed, rollback instructions follow", "id", m.ID(), "rollback", m.RollbackInstructions())
		return false, gwerrors.Migration(m.ID(), "migration success check failed")
	}

	logger.Info("migration succeeded", "id", m.ID())
	return true, nil
}

// Run applies every migration in order, per spec §4.11: the first
// migration's applied/no-op result becomes clean_start, threaded to every
// subsequent migration's Apply. Run is idempotent — replaying it against an
// up-to-date store is a no-op, since every migration's ShouldApply reports
// false once its DDL has already landed.
func Run(ctx context.Context, migrations []Migration, logger *slog.Logger) error {
	if len(migrations) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	cleanStart, err := RunMigration(ctx, migrations[0], false, logger)
	if err != nil {
		return err
	}

	for _, m := range migrations[1:] {
		if _, err := RunMigration(ctx, m, cleanStart, logger); err != nil {
			return err
		}
	}
	return nil
}
