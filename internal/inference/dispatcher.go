package inference

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/schema"
	"github.com/relaygate/relaygate/internal/tool"
	"github.com/relaygate/relaygate/internal/variant"
)

// VariantConfig is one function's weighted variant entry. Exactly one of
// Chat/BestOfN/DICL is populated, mirroring spec §4.7's variant sum type.
type VariantConfig struct {
	Weight  float64
	Chat    *variant.ChatCompletion
	BestOfN *BestOfNConfig
	DICL    *variant.DICL
}

// BestOfNConfig names the inner variants a BestOfN entry samples from and
// the variant used to judge them.
type BestOfNConfig struct {
	CandidateVariantNames []string
	Judge                 *variant.ChatCompletion
}

// FunctionConfig is one function's static configuration: schemas, static
// tool set, and its variant pool.
type FunctionConfig struct {
	Name         string
	Type         providers.FunctionType
	InputSchema  *schema.Validator
	OutputSchema *schema.Validator // Json functions only
	StaticTools  []tool.Descriptor
	Variants     map[string]*VariantConfig
}

// Store is the persistence boundary C10 implements; defined here (the
// consumer) rather than in internal/store, so the dispatcher only depends
// on the operations it actually calls.
type Store interface {
	RecordInference(ctx context.Context, rec InferenceRecord) error
}

// InferenceRecord is what gets handed to the store after a successful
// infer/infer_stream call, sanitized and ready for insertion.
type InferenceRecord struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	FunctionType providers.FunctionType
	VariantName  string
	ProviderName string
	Input        content.Message
	Output       []content.Block
	Usage        providers.Usage
	RawRequest   string
	RawResponse  string
	Tags         map[string]string
	Timestamp    time.Time
}

// Dispatcher wires C3/C4/C6/C7 together to implement C8's public
// operations.
type Dispatcher struct {
	Functions  map[string]*FunctionConfig
	Models     map[string]*model.Model
	Store      Store
	RandSource rand.Source
}

// InferInput is the inbound request to Infer/InferStream.
type InferInput struct {
	FunctionName        string
	EpisodeID           uuid.UUID // zero value means "generate a new one"
	Input               content.Message
	VariantName         string // optional pin, bypassing weighted selection
	DynamicTools        []tool.Descriptor
	ToolChoice          tool.Choice
	ParallelToolsOK     *bool
	DynamicOutputSchema json.RawMessage
	DynamicCredentials  map[string]string
	Tags                map[string]string
	SystemArgs          map[string]any
}

// InferenceResult is Infer's non-streaming return value.
type InferenceResult struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	VariantName string
	ProviderName string
	Response    *providers.ProviderInferenceResponse
}

func (d *Dispatcher) resolveEpisodeID(in InferInput) (uuid.UUID, error) {
	var zero uuid.UUID
	if in.EpisodeID == zero {
		return NewEpisodeID()
	}
	if err := ValidateUUIDv7(in.EpisodeID, "episode_id"); err != nil {
		return zero, err
	}
	return in.EpisodeID, nil
}

func (d *Dispatcher) resolveModel(modelName string) (*model.Model, error) {
	if m, ok := d.Models[modelName]; ok {
		return m, nil
	}
	return model.ResolveShorthandModel(modelName, "")
}

func (d *Dispatcher) buildOpts(fn *FunctionConfig, in InferInput) variant.BuildRequestOpts {
	var staticOutputSchema json.RawMessage
	if fn.OutputSchema != nil {
		staticOutputSchema = fn.OutputSchema.Raw()
	}
	return variant.BuildRequestOpts{
		SystemArgs:          in.SystemArgs,
		StaticTools:         fn.StaticTools,
		DynamicTools:        in.DynamicTools,
		ToolChoice:          in.ToolChoice,
		ParallelToolsOK:     in.ParallelToolsOK,
		FunctionType:        fn.Type,
		OutputSchema:        staticOutputSchema,
		DynamicOutputSchema: in.DynamicOutputSchema,
	}
}

// validateInput runs spec §4.8 step 2.
func (d *Dispatcher) validateInput(fn *FunctionConfig, in InferInput) error {
	if fn.InputSchema == nil {
		return nil
	}
	var asAny any
	raw, _ := json.Marshal(in.Input)
	if err := json.Unmarshal(raw, &asAny); err != nil {
		return gwerrors.InvalidRequest("could not re-marshal input for schema validation: " + err.Error())
	}
	return fn.InputSchema.Validate(asAny)
}

// attemptChat runs one ChatCompletion variant attempt end to end.
func (d *Dispatcher) attemptChat(ctx context.Context, c *variant.ChatCompletion, fn *FunctionConfig, in InferInput) (string, *providers.ProviderInferenceResponse, error) {
	req, err := c.BuildRequest(in.Input, d.buildOpts(fn, in))
	if err != nil {
		return "", nil, err
	}
	m, err := d.resolveModel(c.ModelName)
	if err != nil {
		return "", nil, err
	}
	return m.Route(ctx, req, in.DynamicCredentials)
}

// attemptBestOfN runs every candidate concurrently and judges the survivors.
func (d *Dispatcher) attemptBestOfN(ctx context.Context, bc *BestOfNConfig, fn *FunctionConfig, in InferInput) (string, *providers.ProviderInferenceResponse, error) {
	innerInvoke := func(ctx context.Context, variantName string) (*providers.ProviderInferenceResponse, error) {
		vc, ok := fn.Variants[variantName]
		switch {
		case ok && vc.Chat != nil:
			_, resp, err := d.attemptChat(ctx, vc.Chat, fn, in)
			return resp, err
		case ok && vc.DICL != nil:
			_, resp, err := d.attemptDICL(ctx, vc.DICL, fn, in)
			return resp, err
		}
		return nil, gwerrors.InvalidProviderConfig("best_of_n candidate " + variantName + " is not a chat_completion or dicl variant")
	}
	candidates := variant.RunBestOfN(ctx, bc.CandidateVariantNames, innerInvoke)

	judge := func(ctx context.Context, successes []variant.Candidate) (int, error) {
		prompt := variant.BuildJudgePrompt(successes)
		judgeInput := content.Message{Turns: []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: prompt}}}}}
		_, resp, err := d.attemptChat(ctx, bc.Judge, fn, InferInput{Input: judgeInput, DynamicCredentials: in.DynamicCredentials})
		if err != nil {
			return 0, err
		}
		// The judge is expected to respond with the winning candidate's
		// integer index as its entire text output; malformed output falls
		// back to index 0 inside SelectBestOfN.
		return parseJudgeIndex(providers.TextBlocksToString(resp.Content)), nil
	}

	winner, err := variant.SelectBestOfN(ctx, candidates, judge)
	if err != nil {
		return "", nil, err
	}
	return winner.VariantName, winner.Response, nil
}

func (d *Dispatcher) attemptDICL(ctx context.Context, dc *variant.DICL, fn *FunctionConfig, in InferInput) (string, *providers.ProviderInferenceResponse, error) {
	queryEmbedding, err := embedQuery(ctx, dc.EmbeddingModel, in.Input)
	if err != nil {
		return "", nil, err
	}
	req, err := dc.BuildRequest(ctx, in.Input, queryEmbedding, d.buildOpts(fn, in))
	if err != nil {
		return "", nil, err
	}
	m, err := d.resolveModel(dc.Inner.ModelName)
	if err != nil {
		return "", nil, err
	}
	return m.Route(ctx, req, in.DynamicCredentials)
}

// embedQuery resolves an embedding model by shorthand/registry name and
// calls its EmbedCapable capability.
func embedQuery(ctx context.Context, embeddingModel string, msg content.Message) ([]float64, error) {
	query := providers.TextBlocksToString(lastUserContent(msg))
	providerType, name, ok := cutShorthand(embeddingModel)
	if !ok {
		return nil, gwerrors.InvalidProviderConfig("embedding model must be provider_type::model_name: " + embeddingModel)
	}
	adapter, err := providers.ResolveShorthand(providerType, name)
	if err != nil {
		return nil, err
	}
	embedder, ok := adapter.(providers.EmbedCapable)
	if !ok {
		return nil, gwerrors.InvalidProviderConfig("provider does not support embeddings: " + providerType)
	}
	vectors, err := embedder.Embed(ctx, providers.Credentials{}, name, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, err
	}
	return vectors[0], nil
}

// parseJudgeIndex extracts a leading integer from the judge's text output,
// returning 0 (the declared-order first candidate) if none is found.
func parseJudgeIndex(text string) int {
	idx := 0
	for _, r := range text {
		if r < '0' || r > '9' {
			break
		}
		idx = idx*10 + int(r-'0')
	}
	return idx
}

func cutShorthand(s string) (string, string, bool) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == ':' {
			return s[:i], s[i+2:], true
		}
	}
	return "", "", false
}

func lastUserContent(m content.Message) []content.Block {
	for i := len(m.Turns) - 1; i >= 0; i-- {
		if m.Turns[i].Role == content.RoleUser {
			return m.Turns[i].Content
		}
	}
	return nil
}

// Infer implements spec §4.8's non-streaming public operation.
func (d *Dispatcher) Infer(ctx context.Context, in InferInput) (*InferenceResult, error) {
	fn, ok := d.Functions[in.FunctionName]
	if !ok {
		return nil, gwerrors.InvalidRequest("unknown function: " + in.FunctionName)
	}
	episodeID, err := d.resolveEpisodeID(in)
	if err != nil {
		return nil, err
	}
	if err := d.validateInput(fn, in); err != nil {
		return nil, err
	}
	if err := in.Input.Validate(); err != nil {
		return nil, err
	}

	weighted := make([]variant.WeightedVariant, 0, len(fn.Variants))
	for name, vc := range fn.Variants {
		weighted = append(weighted, variant.WeightedVariant{Name: name, Weight: vc.Weight})
	}
	if in.VariantName != "" {
		weighted = []variant.WeightedVariant{{Name: in.VariantName, Weight: 1}}
	}

	src := d.RandSource
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	sel := variant.NewSelector(weighted, src)

	inferenceID, err := NewEpisodeID()
	if err != nil {
		return nil, err
	}

	for {
		name, ok := sel.Next()
		if !ok {
			return nil, gwerrors.AllVariantsFailed(sel.Errors())
		}
		vc, ok := fn.Variants[name]
		if !ok {
			sel.RecordFailure(name, gwerrors.InvalidProviderConfig("unknown variant: "+name))
			continue
		}

		var providerName string
		var resp *providers.ProviderInferenceResponse
		var attemptErr error
		switch {
		case vc.Chat != nil:
			providerName, resp, attemptErr = d.attemptChat(ctx, vc.Chat, fn, in)
		case vc.BestOfN != nil:
			providerName, resp, attemptErr = d.attemptBestOfN(ctx, vc.BestOfN, fn, in)
		case vc.DICL != nil:
			providerName, resp, attemptErr = d.attemptDICL(ctx, vc.DICL, fn, in)
		default:
			attemptErr = gwerrors.InvalidProviderConfig("variant " + name + " has no configured implementation")
		}

		if attemptErr != nil {
			sel.RecordFailure(name, attemptErr)
			continue
		}

		if d.Store != nil {
			_ = d.Store.RecordInference(ctx, InferenceRecord{
				InferenceID:  inferenceID,
				EpisodeID:    episodeID,
				FunctionName: in.FunctionName,
				FunctionType: fn.Type,
				VariantName:  name,
				ProviderName: providerName,
				Input:        in.Input,
				Output:       resp.Content,
				Usage:        resp.Usage,
				RawRequest:   content.SanitizeRawRequest(in.Input, resp.RawRequest),
				RawResponse:  resp.RawResponse,
				Tags:         in.Tags,
				Timestamp:    time.Now(),
			})
		}

		return &InferenceResult{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: name, ProviderName: providerName, Response: resp}, nil
	}
}

// StreamResult carries the metadata the HTTP boundary needs before the
// first chunk arrives (spec §4.8: "infer_stream ... (first_chunk,
// remaining_stream, model_used_info)").
type StreamResult struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	VariantName  string
	ProviderName string
	Stream       <-chan providers.StreamChunk
}

// InferStream implements spec §4.8's streaming public operation. BestOfN
// variants cannot stream (the judge needs every candidate's complete
// output before it can pick one), so a BestOfN entry is skipped during
// streaming selection rather than attempted and failed; this is a
// structural property of ensembling, not a missing feature, so it is
// recorded here rather than in DESIGN.md's Open Questions.
func (d *Dispatcher) InferStream(ctx context.Context, in InferInput) (*StreamResult, error) {
	fn, ok := d.Functions[in.FunctionName]
	if !ok {
		return nil, gwerrors.InvalidRequest("unknown function: " + in.FunctionName)
	}
	episodeID, err := d.resolveEpisodeID(in)
	if err != nil {
		return nil, err
	}
	if err := d.validateInput(fn, in); err != nil {
		return nil, err
	}
	if err := in.Input.Validate(); err != nil {
		return nil, err
	}

	weighted := make([]variant.WeightedVariant, 0, len(fn.Variants))
	for name, vc := range fn.Variants {
		if vc.BestOfN != nil {
			continue
		}
		weighted = append(weighted, variant.WeightedVariant{Name: name, Weight: vc.Weight})
	}
	if in.VariantName != "" {
		weighted = []variant.WeightedVariant{{Name: in.VariantName, Weight: 1}}
	}

	src := d.RandSource
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	sel := variant.NewSelector(weighted, src)

	inferenceID, err := NewEpisodeID()
	if err != nil {
		return nil, err
	}

	for {
		name, ok := sel.Next()
		if !ok {
			return nil, gwerrors.AllVariantsFailed(sel.Errors())
		}
		vc, ok := fn.Variants[name]
		if !ok {
			sel.RecordFailure(name, gwerrors.InvalidProviderConfig("unknown variant: "+name))
			continue
		}

		var providerName string
		var stream <-chan providers.StreamChunk
		var attemptErr error
		switch {
		case vc.Chat != nil:
			req, err := vc.Chat.BuildRequest(in.Input, d.buildOpts(fn, in))
			if err != nil {
				attemptErr = err
				break
			}
			req.Stream = true
			m, err := d.resolveModel(vc.Chat.ModelName)
			if err != nil {
				attemptErr = err
				break
			}
			providerName, stream, attemptErr = m.RouteStream(ctx, req, in.DynamicCredentials)
		case vc.DICL != nil:
			queryEmbedding, err := embedQuery(ctx, vc.DICL.EmbeddingModel, in.Input)
			if err != nil {
				attemptErr = err
				break
			}
			req, err := vc.DICL.BuildRequest(ctx, in.Input, queryEmbedding, d.buildOpts(fn, in))
			if err != nil {
				attemptErr = err
				break
			}
			req.Stream = true
			m, err := d.resolveModel(vc.DICL.Inner.ModelName)
			if err != nil {
				attemptErr = err
				break
			}
			providerName, stream, attemptErr = m.RouteStream(ctx, req, in.DynamicCredentials)
		default:
			attemptErr = gwerrors.InvalidProviderConfig("variant " + name + " has no streamable implementation")
		}

		if attemptErr != nil {
			sel.RecordFailure(name, attemptErr)
			continue
		}

		return &StreamResult{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: name, ProviderName: providerName, Stream: stream}, nil
	}
}

// FeedbackInput is the target/metric/value/tags tuple spec §4.8's feedback
// operation accepts.
type FeedbackInput struct {
	TargetID   uuid.UUID
	MetricName string
	Value      any
	Tags       map[string]string
}

// FeedbackWriter is the narrow persistence interface Feedback needs,
// separate from Store so a dispatcher wired only for inference doesn't
// have to satisfy feedback-table concerns.
type FeedbackWriter interface {
	RecordFeedback(ctx context.Context, feedbackID uuid.UUID, in FeedbackInput) error
}

// Feedback implements spec §4.8's feedback operation: validate the target
// id, assign a feedback id, and persist.
func (d *Dispatcher) Feedback(ctx context.Context, fw FeedbackWriter, in FeedbackInput) (uuid.UUID, error) {
	if err := ValidateUUIDv7(in.TargetID, "target_id"); err != nil {
		return uuid.UUID{}, err
	}
	feedbackID, err := NewEpisodeID()
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := fw.RecordFeedback(ctx, feedbackID, in); err != nil {
		return uuid.UUID{}, err
	}
	return feedbackID, nil
}
