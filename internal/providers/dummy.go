package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Dummy never makes a network call. It exists for configuration testing and
// integration scenarios that need deterministic provider behavior without a
// live credential (e.g. verifying router fallback skips a failing entry).
// Grounded on the corpus's general pattern of a fixed-behavior stub adapter
// (no direct teacher equivalent; this is new code, justified in DESIGN.md
// since wiring a real provider into a fallback test would make the test
// flaky against network conditions).
type Dummy struct {
	name     string
	behavior string // "echo", "error", "slow", "tool_call"
}

func NewDummy(behavior string) *Dummy {
	name := "dummy"
	if behavior != "" && behavior != "echo" {
		name = "dummy::" + behavior
	}
	return &Dummy{name: name, behavior: behavior}
}

func (p *Dummy) Name() string                   { return p.name }
func (p *Dummy) SupportsStreaming() bool         { return true }
func (p *Dummy) SupportsParallelToolCalls() bool { return true }

func (p *Dummy) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	switch p.behavior {
	case "error":
		return nil, gwerrors.InferenceServer(p.name, "", "", "dummy provider configured to fail")
	case "tool_call":
		return &ProviderInferenceResponse{
			Content: []content.Block{{
				Type: content.BlockToolCall, ToolCallID: "dummy_call_0", ToolName: "get_temperature",
				RawArgs: `{"location":"Brooklyn"}`, ParsedArgs: map[string]any{"location": "Brooklyn"},
			}},
			Usage:        Usage{InputTokens: 10, OutputTokens: 10},
			FinishReason: "tool_calls",
		}, nil
	default:
		echoed := TextBlocksToString(lastUserBlocks(req.Messages))
		if echoed == "" {
			echoed = "Hello, world!"
		}
		return &ProviderInferenceResponse{
			Content:      []content.Block{{Type: content.BlockText, Text: echoed}},
			Usage:        Usage{InputTokens: 10, OutputTokens: 10},
			FinishReason: "stop",
		}, nil
	}
}

func (p *Dummy) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	if p.behavior == "error" {
		return nil, gwerrors.InferenceServer(p.name, "", "", "dummy provider configured to fail")
	}
	out := make(chan StreamChunk, 4)
	go func() {
		defer close(out)
		words := strings.Fields("Hello, world!")
		for _, w := range words {
			select {
			case <-ctx.Done():
				return
			case out <- StreamChunk{ContentDelta: []content.Block{{Type: content.BlockText, Text: w + " "}}}:
			}
		}
		usage := Usage{InputTokens: 10, OutputTokens: 10}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

// UploadFile implements FileUploadCapable deterministically: the returned
// file id is derived from the purpose and payload length so tests can
// assert on it without a live endpoint.
func (p *Dummy) UploadFile(ctx context.Context, creds Credentials, purpose string, data []byte, filename string) (*UploadedFile, error) {
	if p.behavior == "error" {
		return nil, gwerrors.InferenceServer(p.name, "", "", "dummy provider configured to fail upload")
	}
	return &UploadedFile{FileID: fmt.Sprintf("dummy-file-%s-%d", purpose, len(data))}, nil
}

// StartFineTune implements FineTuneCapable. Behavior "error" fails the
// submission; any other behavior returns a job handle derived from the
// training file id.
func (p *Dummy) StartFineTune(ctx context.Context, creds Credentials, trainingFileID, validationFileID, model string, hyperparameters map[string]any) (*FineTuneJob, error) {
	if p.behavior == "error" {
		return nil, gwerrors.InferenceServer(p.name, "", "", "dummy provider configured to fail fine-tune submission")
	}
	return &FineTuneJob{JobID: "dummy-ft-" + trainingFileID, JobAPIURL: "https://dummy.invalid/fine_tuning/jobs/dummy-ft-" + trainingFileID}, nil
}

// PollFineTune implements FineTuneCapable. Behavior "slow" reports an
// in-progress job forever; "error" reports a failed job; anything else
// reports immediate completion, naming a fine-tuned model derived from the
// job id so tests can assert ModelConfig materialization end to end.
func (p *Dummy) PollFineTune(ctx context.Context, creds Credentials, job FineTuneJob) (*FineTuneStatus, error) {
	switch p.behavior {
	case "error":
		return &FineTuneStatus{Done: true, Failed: true, Message: "dummy provider configured to fail fine-tune"}, nil
	case "slow":
		tokens := 1000
		return &FineTuneStatus{Done: false, Message: "training", TrainedTokens: &tokens}, nil
	default:
		return &FineTuneStatus{Done: true, FineTunedModel: "ft:" + job.JobID}, nil
	}
}

func lastUserBlocks(m content.Message) []content.Block {
	for i := len(m.Turns) - 1; i >= 0; i-- {
		if m.Turns[i].Role == content.RoleUser {
			return m.Turns[i].Content
		}
	}
	return nil
}
