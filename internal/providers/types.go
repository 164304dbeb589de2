// Package providers implements C5: one adapter per model backend. Grounded
// on the teacher's internal/providers package (registry.go's Provider
// interface, base.go's shared transformation helpers, and the per-backend
// anthropic.go/openai.go/gemini.go/nvidia.go/openrouter.go files), extended
// to the full backend list in spec.md §1 and generalized from "Anthropic
// wire format in, Anthropic wire format out" to the provider-agnostic
// ModelInferenceRequest/ProviderInferenceResponse contract in spec §3.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaygate/relaygate/internal/content"
	"github.com/relaygate/relaygate/internal/tool"
)

// JSONMode mirrors spec §3's {Off, On, Strict, ImplicitTool} policy.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// FunctionType distinguishes Chat vs Json functions (spec §3).
type FunctionType string

const (
	FunctionChat FunctionType = "chat"
	FunctionJSON FunctionType = "json"
)

// ModelInferenceRequest is the adapter-facing contract every variant
// compiles into (spec §3).
type ModelInferenceRequest struct {
	Messages         content.Message
	System           string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	Seed             *int64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	ToolConfig       *tool.Config
	OutputSchema     json.RawMessage
	JSONMode         JSONMode
	FunctionType     FunctionType
	Stream           bool

	// Escape hatches, applied after request construction.
	ExtraBody    map[string]json.RawMessage
	ExtraHeaders map[string]string
}

// Usage mirrors spec §3: cache tokens MUST be folded into InputTokens.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add returns the element-wise sum, used when aggregating BestOfN usage.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Latency is either NonStreaming{response_time} or Streaming{ttft, total}.
type Latency struct {
	Streaming bool
	TTFT      time.Duration // only meaningful when Streaming
	Total     time.Duration
}

// ToolCallBlock is the normalized shape every adapter must produce for an
// assistant tool call, regardless of wire format (spec §4.5).
type ToolCallBlock struct {
	ID                string
	Name              string
	RawName           string
	RawArgumentsString string
	ParsedArguments   any // nil if raw_arguments_string failed to parse
}

// ProviderInferenceResponse is what every non-streaming adapter call
// produces (spec §4.5).
type ProviderInferenceResponse struct {
	Content     []content.Block
	Usage       Usage
	Latency     Latency
	RawRequest  string
	RawResponse string
	FinishReason string
}

// StreamChunk is one normalized unit of a streaming response (spec §4.9).
type StreamChunk struct {
	ContentDelta []content.Block
	ToolCalls    []ToolCallBlock
	Usage        *Usage // only non-nil on the final chunk
	RawChunk     string
	Done         bool
}

// WrappedProvider is implemented by adapters (Bedrock, Sagemaker) that ship another
// provider's wire body over their own transport byte stream (spec §4.5).
type WrappedProvider interface {
	WrapRequestBody(inner []byte) ([]byte, error)
	UnwrapResponseBody(outer []byte) ([]byte, error)
}

// BatchJobHandle is returned by StartBatch.
type BatchJobHandle struct {
	JobID     string
	JobAPIURL string
}

// UploadedFile is returned by UploadFile.
type UploadedFile struct {
	FileID string
}

// Adapter is the capability-set interface every backend implements fully
// (Infer/InferStream) and partially (the rest, asserted via the optional
// interfaces below), per spec §4.5.
type Adapter interface {
	Name() string
	SupportsStreaming() bool
	SupportsParallelToolCalls() bool
	Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error)
	InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error)
}

// BatchCapable is the optional start_batch/poll_batch capability.
type BatchCapable interface {
	StartBatch(ctx context.Context, creds Credentials, requests []ModelInferenceRequest) (*BatchJobHandle, error)
	PollBatch(ctx context.Context, creds Credentials, handle BatchJobHandle) ([]ProviderInferenceResponse, bool, error)
}

// FileUploadCapable is the optional upload_file capability, shared by C12.
type FileUploadCapable interface {
	UploadFile(ctx context.Context, creds Credentials, purpose string, data []byte, filename string) (*UploadedFile, error)
}

// FineTuneJob is returned by StartFineTune.
type FineTuneJob struct {
	JobID     string
	JobAPIURL string
}

// FineTuneStatus is the raw provider-side job status PollFineTune observes,
// before C12 folds it into its own Pending/Completed/Failed state machine.
type FineTuneStatus struct {
	Done             bool
	Failed           bool
	Message          string
	EstimatedFinish  *time.Time
	TrainedTokens    *int
	FineTunedModel   string // populated once Done
}

// FineTuneCapable is the optional fine-tune submit/poll capability C12
// drives. StartFineTune takes already-uploaded file ids, a base model, and
// whatever hyperparameters the provider accepts; the hyperparameters are loose
// (map[string]any) since every provider's fine-tune hyperparameter set
// differs and C12 only needs to pass it through untouched.
type FineTuneCapable interface {
	StartFineTune(ctx context.Context, creds Credentials, trainingFileID string, validationFileID string, model string, hyperparameters map[string]any) (*FineTuneJob, error)
	PollFineTune(ctx context.Context, creds Credentials, job FineTuneJob) (*FineTuneStatus, error)
}

// EmbedCapable is the optional embed capability.
type EmbedCapable interface {
	Embed(ctx context.Context, creds Credentials, model string, input []string) ([][]float64, error)
}

// Credentials carries a per-request dynamic API key, if any. The full
// resolution chain (per-request → process default → env var) lives in
// internal/model (C6); by the time an Adapter sees a Credentials value it
// has already been resolved to a single concrete key.
type Credentials struct {
	APIKey string
}
