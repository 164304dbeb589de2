// Package inference implements C8: the public infer/infer_stream/feedback
// operations, UUIDv7 validation, and variant/model orchestration.
//
// Grounded on internal/handlers/proxy.go's top-level request sequence
// (validate -> route -> transform -> call -> respond), generalized from
// "one Anthropic request to one provider" into the function/variant
// pipeline. UUIDv7 timestamp validation is grounded on
// _examples/original_source/tensorzero-core/src/utils/uuid.rs.
package inference

import (
	"time"

	"github.com/google/uuid"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// EarliestTimestamp is the earliest UTC unix-seconds timestamp an episode
// UUIDv7 may encode, matching the original's EARLIEST_TIMESTAMP.
const EarliestTimestamp int64 = 1579751960

// WorkflowEvaluationOffsetSeconds is the exact future offset reserved for
// workflow-evaluation episode IDs, matching the original's
// WORKFLOW_EVALUATION_OFFSET_S.
const WorkflowEvaluationOffsetSeconds int64 = 10_000_000_000

// timestampSeconds extracts a UUIDv7's 48-bit big-endian millisecond
// timestamp (the high 6 bytes) and returns it in whole seconds.
func timestampSeconds(id uuid.UUID) int64 {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return ms / 1000
}

// ValidateUUIDv7 enforces spec §4.8 step 1: the id must be a version-7 UUID
// whose timestamp lies in [EarliestTimestamp, now+1s], except for
// workflow-evaluation IDs future-dated by exactly
// WorkflowEvaluationOffsetSeconds.
func ValidateUUIDv7(id uuid.UUID, kind string) error {
	if id.Version() != 7 {
		return gwerrors.InvalidTensorzeroUUID(kind, "uuid is not version 7")
	}
	ts := timestampSeconds(id)
	now := time.Now().Unix()

	if ts < EarliestTimestamp {
		return gwerrors.InvalidTensorzeroUUID(kind, "uuid timestamp predates the earliest allowed timestamp")
	}
	if ts > now+1 {
		if ts-now == WorkflowEvaluationOffsetSeconds {
			return nil
		}
		return gwerrors.UUIDInFuture(kind)
	}
	return nil
}

// NewEpisodeID generates a fresh UUIDv7 episode identifier.
func NewEpisodeID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// NewWorkflowEvaluationEpisodeID synthesizes a reserved future-dated UUIDv7
// exactly WorkflowEvaluationOffsetSeconds ahead of now, for workflow
// evaluation runs that must not collide with real-time episode traffic.
func NewWorkflowEvaluationEpisodeID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, err
	}
	futureMs := (time.Now().Unix() + WorkflowEvaluationOffsetSeconds) * 1000
	id[0] = byte(futureMs >> 40)
	id[1] = byte(futureMs >> 32)
	id[2] = byte(futureMs >> 24)
	id[3] = byte(futureMs >> 16)
	id[4] = byte(futureMs >> 8)
	id[5] = byte(futureMs)
	return id, nil
}
