// Package optimizer implements C12: the launch/poll control loop for
// supervised, DPO, and RFT fine-tuning jobs, run outside the request path
// and sharing C5's provider adapters for file upload and job submission
// (spec §4.12, §4.15).
//
// No teacher equivalent exists (the teacher has no training surface at
// all). The parallel file-upload shape is grounded on
// taipm-go-deep-agent's agent/batch.go worker-pool idiom (goroutines +
// sync.WaitGroup collecting results against a fixed-size unit of work,
// here two files instead of an arbitrary prompt list); job submission
// reuses internal/providers.FileUploadCapable/FineTuneCapable the way
// taipm-go-deep-agent's batch code reuses its own provider clients instead
// of duplicating HTTP logic, and ModelConfig materialization on job
// completion reuses internal/model.ResolveShorthandModel (C6) rather than
// inventing a second model-binding path.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gwerrors "github.com/relaygate/relaygate/internal/errors"

	"github.com/relaygate/relaygate/internal/content"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/tool"
)

// Method selects how TrainingSet rows are serialized and which provider
// fine-tune endpoint they target (spec §4.12).
type Method string

const (
	MethodSupervised Method = "supervised"
	MethodDPO        Method = "dpo"
	MethodRFT        Method = "rft"
)

// GraderKind tags the Grader sum type, carried through unchanged to the
// provider per spec §4.12.
type GraderKind string

const (
	GraderStringCheck    GraderKind = "string_check"
	GraderTextSimilarity GraderKind = "text_similarity"
	GraderPython         GraderKind = "python"
	GraderScoreModel     GraderKind = "score_model"
	GraderLabelModel     GraderKind = "label_model"
	GraderMulti          GraderKind = "multi"
)

// Grader is an RFT reward specification. Only the fields relevant to Kind
// are populated, mirroring internal/content.Block's discriminated-union
// shape.
type Grader struct {
	Kind GraderKind `json:"type"`

	// StringCheck
	Input     string `json:"input,omitempty"`
	Reference string `json:"reference,omitempty"`
	Operation string `json:"operation,omitempty"` // eq, like, ilike, neq

	// TextSimilarity
	EvaluationMetric string `json:"evaluation_metric,omitempty"`

	// Python
	Source string `json:"source,omitempty"`

	// ScoreModel / LabelModel
	ModelName      string   `json:"model,omitempty"`
	PromptTemplate string   `json:"prompt_template,omitempty"`
	Labels         []string `json:"labels,omitempty"`         // LabelModel
	PassingLabels  []string `json:"passing_labels,omitempty"` // LabelModel

	// Multi
	Graders         map[string]Grader `json:"graders,omitempty"`
	CalculateOutput string            `json:"calculate_output,omitempty"`
}

// SFTRow is one supervised-fine-tuning training example: a full chat with
// messages and the tools available when it was produced.
type SFTRow struct {
	Messages content.Message `json:"messages"`
	Tools    *tool.Config    `json:"tools,omitempty"`
}

// DPORow is one preference pair: an input plus a preferred and
// non-preferred completion.
type DPORow struct {
	Input        content.Message `json:"input"`
	Preferred    content.Message `json:"preferred_output"`
	NonPreferred content.Message `json:"non_preferred_output"`
}

// RFTRow is one reinforcement-fine-tuning example: an input plus the
// Grader that scores the policy's rollouts against it. RFT carries no
// target output — the grader is the supervision signal.
type RFTRow struct {
	Input  content.Message `json:"input"`
	Grader Grader          `json:"grader"`
}

// TrainingSet holds the rows for exactly one Method; only the slice
// matching Method is populated.
type TrainingSet struct {
	Method     Method
	Supervised []SFTRow
	DPO        []DPORow
	RFT        []RFTRow
}

// Serialize renders t as newline-delimited JSON, the line-per-example
// shape every provider's fine-tuning file upload expects.
func (t TrainingSet) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	switch t.Method {
	case MethodSupervised:
		for _, row := range t.Supervised {
			if err := enc.Encode(row); err != nil {
				return nil, fmt.Errorf("encode supervised row: %w", err)
			}
		}
	case MethodDPO:
		for _, row := range t.DPO {
			if err := enc.Encode(row); err != nil {
				return nil, fmt.Errorf("encode dpo row: %w", err)
			}
		}
	case MethodRFT:
		for _, row := range t.RFT {
			if err := enc.Encode(row); err != nil {
				return nil, fmt.Errorf("encode rft row: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown optimization method %q", t.Method)
	}
	return buf.Bytes(), nil
}

// JobHandle is the opaque launch() result, per spec §4.12. ProviderType and
// EnvVar are carried alongside so Poll can materialize a ModelConfig on
// completion without the caller re-supplying routing context.
type JobHandle struct {
	JobID        string
	JobAPIURL    string
	ProviderType string
	EnvVar       string
}

// StatusKind discriminates the three job states from spec §4.12.
type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
)

// Status is the fold of a provider's raw job status into
// Pending{message, estimated_finish?, trained_tokens?}/Completed{output}/
// Failed{message, error?}.
type Status struct {
	Kind StatusKind

	Message         string
	EstimatedFinish *time.Time
	TrainedTokens   *int

	Model              *model.Model
	FineTunedModelName string

	Err error
}

// Launch serializes train (and val, if given) into the provider's expected
// format, uploads both files in parallel, and submits a fine-tune job.
// adapter must implement both providers.FileUploadCapable and
// providers.FineTuneCapable; providerType is the shorthand key
// (internal/providers.ResolveShorthand) used to materialize a ModelConfig
// once the job completes.
func Launch(ctx context.Context, providerType string, adapter providers.Adapter, creds providers.Credentials, baseModel, envVar string, train TrainingSet, val *TrainingSet, hyperparameters map[string]any) (*JobHandle, error) {
	uploader, ok := adapter.(providers.FileUploadCapable)
	if !ok {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("provider %q does not support file upload", providerType))
	}
	trainer, ok := adapter.(providers.FineTuneCapable)
	if !ok {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("provider %q does not support fine-tuning", providerType))
	}

	trainData, err := train.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize training set: %w", err)
	}

	type uploadOutcome struct {
		file *providers.UploadedFile
		err  error
	}
	var trainOutcome, valOutcome uploadOutcome
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		f, err := uploader.UploadFile(ctx, creds, "fine-tune", trainData, "train.jsonl")
		trainOutcome = uploadOutcome{f, err}
	}()

	if val != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			valData, err := val.Serialize()
			if err != nil {
				valOutcome = uploadOutcome{nil, fmt.Errorf("serialize validation set: %w", err)}
				return
			}
			f, err := uploader.UploadFile(ctx, creds, "fine-tune", valData, "validation.jsonl")
			valOutcome = uploadOutcome{f, err}
		}()
	}

	wg.Wait()

	if trainOutcome.err != nil {
		return nil, fmt.Errorf("upload training file: %w", trainOutcome.err)
	}
	validationFileID := ""
	if val != nil {
		if valOutcome.err != nil {
			return nil, fmt.Errorf("upload validation file: %w", valOutcome.err)
		}
		validationFileID = valOutcome.file.FileID
	}

	job, err := trainer.StartFineTune(ctx, creds, trainOutcome.file.FileID, validationFileID, baseModel, hyperparameters)
	if err != nil {
		return nil, fmt.Errorf("submit fine-tune job: %w", err)
	}

	return &JobHandle{JobID: job.JobID, JobAPIURL: job.JobAPIURL, ProviderType: providerType, EnvVar: envVar}, nil
}

// Poll reports handle's current status. Callers implement their own
// polling cadence, per spec §4.12; Poll performs exactly one provider
// round trip. On completion it materializes a ModelConfig whose sole
// provider points at the fine-tuned model name the provider reported,
// reusing internal/model.ResolveShorthandModel (C6) rather than a second
// model-binding path.
func Poll(ctx context.Context, adapter providers.Adapter, creds providers.Credentials, handle JobHandle) (*Status, error) {
	trainer, ok := adapter.(providers.FineTuneCapable)
	if !ok {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("provider %q does not support fine-tuning", handle.ProviderType))
	}

	raw, err := trainer.PollFineTune(ctx, creds, providers.FineTuneJob{JobID: handle.JobID, JobAPIURL: handle.JobAPIURL})
	if err != nil {
		return nil, err
	}

	if raw.Failed {
		return &Status{Kind: StatusFailed, Message: raw.Message}, nil
	}
	if !raw.Done {
		return &Status{Kind: StatusPending, Message: raw.Message, EstimatedFinish: raw.EstimatedFinish, TrainedTokens: raw.TrainedTokens}, nil
	}

	materialized, err := model.ResolveShorthandModel(handle.ProviderType+"::"+raw.FineTunedModel, handle.EnvVar)
	if err != nil {
		return &Status{Kind: StatusFailed, Message: fmt.Sprintf("materialize model config for %q: %v", raw.FineTunedModel, err), Err: err}, nil
	}
	return &Status{Kind: StatusCompleted, Model: materialized, FineTunedModelName: raw.FineTunedModel}, nil
}
