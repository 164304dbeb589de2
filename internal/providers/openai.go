package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/tool"
)

// OpenAICompatible serves every backend that speaks (a close variant of) the
// OpenAI chat-completions wire format: OpenAI itself, Azure OpenAI, Mistral,
// Together, Fireworks, vLLM, TGI, DeepSeek, Groq, Hyperbolic, xAI,
// OpenRouter, SGLang, and NVIDIA. One struct with a pluggable auth/URL scheme
// avoids fourteen near-duplicate adapters, while keeping the teacher's hand-rolled
// encoding/json idiom from internal/providers/openai.go instead of a vendor
// SDK (see DESIGN.md "SDKs considered and not wired").
type OpenAICompatible struct {
	name           string
	baseURL        string
	model          string
	authHeader     string // "Authorization" (Bearer) or "api-key" (Azure)
	supportsStream bool
	supportsJSON   bool // native response_format support
}

func NewOpenAI() *OpenAICompatible {
	return &OpenAICompatible{name: "openai", baseURL: "https://api.openai.com/v1/chat/completions", authHeader: "Authorization", supportsStream: true, supportsJSON: true}
}

func NewAzureOpenAI(resourceBase, deploymentID string) *OpenAICompatible {
	return &OpenAICompatible{
		name:           "azure",
		baseURL:        fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=2024-02-01", strings.TrimRight(resourceBase, "/"), deploymentID),
		authHeader:     "api-key",
		supportsStream: true,
		supportsJSON:   true,
	}
}

func NewMistral() *OpenAICompatible {
	return &OpenAICompatible{name: "mistral", baseURL: "https://api.mistral.ai/v1/chat/completions", authHeader: "Authorization", supportsStream: true, supportsJSON: true}
}

func NewTogether() *OpenAICompatible {
	return &OpenAICompatible{name: "together", baseURL: "https://api.together.xyz/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func NewFireworks() *OpenAICompatible {
	return &OpenAICompatible{name: "fireworks", baseURL: "https://api.fireworks.ai/inference/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func NewVLLM(baseURL string) *OpenAICompatible {
	return &OpenAICompatible{name: "vllm", baseURL: baseURL, authHeader: "Authorization", supportsStream: true}
}

func NewTGI(baseURL string) *OpenAICompatible {
	return &OpenAICompatible{name: "tgi", baseURL: baseURL, authHeader: "Authorization", supportsStream: true}
}

func NewDeepSeek() *OpenAICompatible {
	return &OpenAICompatible{name: "deepseek", baseURL: "https://api.deepseek.com/chat/completions", authHeader: "Authorization", supportsStream: true, supportsJSON: true}
}

func NewGroq() *OpenAICompatible {
	return &OpenAICompatible{name: "groq", baseURL: "https://api.groq.com/openai/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func NewHyperbolic() *OpenAICompatible {
	return &OpenAICompatible{name: "hyperbolic", baseURL: "https://api.hyperbolic.xyz/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func NewXAI() *OpenAICompatible {
	return &OpenAICompatible{name: "xai", baseURL: "https://api.x.ai/v1/chat/completions", authHeader: "Authorization", supportsStream: true, supportsJSON: true}
}

func NewOpenRouter() *OpenAICompatible {
	return &OpenAICompatible{name: "openrouter", baseURL: "https://openrouter.ai/api/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func NewSGLang(baseURL string) *OpenAICompatible {
	return &OpenAICompatible{name: "sglang", baseURL: baseURL, authHeader: "Authorization", supportsStream: true}
}

func NewNvidia() *OpenAICompatible {
	return &OpenAICompatible{name: "nvidia", baseURL: "https://integrate.api.nvidia.com/v1/chat/completions", authHeader: "Authorization", supportsStream: true}
}

func (p *OpenAICompatible) Name() string                      { return p.name }
func (p *OpenAICompatible) SupportsStreaming() bool            { return p.supportsStream }
func (p *OpenAICompatible) SupportsParallelToolCalls() bool    { return true }

type oaMessage struct {
	Role       string      `json:"role"`
	Content    any         `json:"content,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
		Strict      bool            `json:"strict,omitempty"`
	} `json:"function"`
}

type oaRequest struct {
	Model            string          `json:"model"`
	Messages         []oaMessage     `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Tools            []oaTool        `json:"tools,omitempty"`
	ToolChoice       any             `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool          `json:"parallel_tool_calls,omitempty"`
	ResponseFormat   any             `json:"response_format,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
}

type oaChoice struct {
	Index        int       `json:"index"`
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
	Delta        oaMessage `json:"delta"`
}

type oaUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	PromptTokensDetails     struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type oaResponse struct {
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAICompatible) buildRequest(modelName string, req ModelInferenceRequest) oaRequest {
	body := oaRequest{Model: modelName, Stream: req.Stream}
	if req.System != "" {
		body.Messages = append(body.Messages, oaMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.Messages.Turns {
		body.Messages = append(body.Messages, turnToOAMessages(turn)...)
	}
	body.Temperature = req.Temperature
	body.TopP = req.TopP
	body.MaxTokens = req.MaxTokens
	body.Seed = req.Seed
	body.FrequencyPenalty = req.FrequencyPenalty
	body.PresencePenalty = req.PresencePenalty
	body.Stop = req.StopSequences

	if req.ToolConfig != nil {
		for _, d := range req.ToolConfig.Tools {
			t := oaTool{Type: "function"}
			t.Function.Name = d.Name
			t.Function.Description = d.Description
			t.Function.Parameters = d.Parameters
			t.Function.Strict = d.Strict
			body.Tools = append(body.Tools, t)
		}
		body.ToolChoice = toolChoiceToOA(req.ToolConfig.Choice)
		body.ParallelToolCalls = req.ToolConfig.ParallelOK
	}

	if p.supportsJSON {
		switch req.JSONMode {
		case JSONModeOn:
			body.ResponseFormat = map[string]string{"type": "json_object"}
		case JSONModeStrict:
			body.ResponseFormat = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   "response",
					"schema": json.RawMessage(req.OutputSchema),
					"strict": true,
				},
			}
		}
	}
	return body
}

func toolChoiceToOA(c tool.Choice) any {
	switch c.Mode {
	case tool.ChoiceNone:
		return "none"
	case tool.ChoiceRequired:
		return "required"
	case tool.ChoiceSpecific:
		return map[string]any{"type": "function", "function": map[string]string{"name": c.Name}}
	default:
		return "auto"
	}
}

func turnToOAMessages(turn content.Turn) []oaMessage {
	role := string(turn.Role)
	if turn.Role == content.RoleToolProducer {
		var out []oaMessage
		for _, b := range turn.Content {
			if b.Type == content.BlockToolResult {
				out = append(out, oaMessage{Role: "tool", ToolCallID: b.ToolResultID, Content: b.Result})
			}
		}
		return out
	}

	msg := oaMessage{Role: role}
	var textParts []string
	for _, b := range turn.Content {
		switch b.Type {
		case content.BlockText, content.BlockRawText:
			textParts = append(textParts, b.Text)
		case content.BlockToolCall:
			tc := oaToolCall{ID: b.ToolCallID, Type: "function"}
			tc.Function.Name = b.ToolName
			tc.Function.Arguments = b.RawArgs
			msg.ToolCalls = append(msg.ToolCalls, tc)
		case content.BlockFile:
			// Files are sent as a text placeholder naming the MIME type,
			// not as multimodal content parts.
			textParts = append(textParts, fmt.Sprintf("[file:%s]", b.FileMimeType))
		}
	}
	if len(textParts) > 0 {
		msg.Content = strings.Join(textParts, "")
	}
	return []oaMessage{msg}
}

func (p *OpenAICompatible) doCall(ctx context.Context, creds Credentials, body oaRequest) ([]byte, string, error) {
	raw, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, newJSONBodyReader(raw))
	if err != nil {
		return nil, string(raw), gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if creds.APIKey == "" {
		return nil, string(raw), gwerrors.APIKeyMissing(p.name)
	}
	if p.authHeader == "api-key" {
		httpReq.Header.Set("api-key", creds.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	respBody, err := DoJSONRequest(SharedHTTPClient, httpReq, p.name, string(raw))
	return respBody, string(raw), err
}

func (p *OpenAICompatible) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	body := p.buildRequest(p.model, req)
	body.Stream = false
	respBody, rawReq, err := p.doCall(ctx, creds, body)
	if err != nil {
		return nil, err
	}

	var parsed oaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, classifyParseError(p.name, rawReq, string(respBody), err)
	}
	if parsed.Error != nil {
		return nil, gwerrors.InferenceServer(p.name, rawReq, string(respBody), parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, gwerrors.InferenceServer(p.name, rawReq, string(respBody), "no choices in response")
	}

	choice := parsed.Choices[0]
	blocks := oaMessageToBlocks(choice.Message)

	usage := Usage{}
	if parsed.Usage != nil {
		usage.InputTokens = FoldCacheTokens(parsed.Usage.PromptTokens, parsed.Usage.PromptTokensDetails.CachedTokens, 0)
		usage.OutputTokens = parsed.Usage.CompletionTokens
	}

	return &ProviderInferenceResponse{
		Content:      blocks,
		Usage:        usage,
		Latency:      Latency{Streaming: false},
		RawRequest:   rawReq,
		RawResponse:  string(respBody),
		FinishReason: NormalizeStopReason(p.name, choice.FinishReason),
	}, nil
}

func oaMessageToBlocks(msg oaMessage) []content.Block {
	var blocks []content.Block
	if s, ok := msg.Content.(string); ok && s != "" {
		blocks = append(blocks, content.Block{Type: content.BlockText, Text: s})
	}
	for _, tc := range msg.ToolCalls {
		norm := ParseToolCallArguments(tc.ID, tc.Function.Name, tc.Function.Arguments)
		blocks = append(blocks, content.Block{
			Type: content.BlockToolCall, ToolCallID: norm.ID, ToolName: norm.Name,
			RawName: norm.RawName, RawArgs: norm.RawArgumentsString, ParsedArgs: norm.ParsedArguments,
		})
	}
	return blocks
}

func (p *OpenAICompatible) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	body := p.buildRequest(p.model, req)
	body.Stream = true
	raw, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, newJSONBodyReader(raw))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if creds.APIKey == "" {
		return nil, gwerrors.APIKeyMissing(p.name)
	}
	if p.authHeader == "api-key" {
		httpReq.Header.Set("api-key", creds.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}

	resp, err := SharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(raw), "", err.Error()).Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := DecodeBody(resp)
		resp.Body.Close()
		return nil, classifyHTTPError(p.name, resp.StatusCode, string(raw), body)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		var accumulated strings.Builder
		toolAccum := map[int]*oaToolCall{}
		var finalUsage *Usage

		_ = ScanSSE(resp.Body, func(ev SSEEvent) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			if ev.Data == "[DONE]" {
				return false
			}
			accumulated.WriteString(ev.Data)

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content   string `json:"content"`
						ToolCalls []struct {
							Index    int    `json:"index"`
							ID       string `json:"id"`
							Function struct {
								Name      string `json:"name"`
								Arguments string `json:"arguments"`
							} `json:"function"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Usage *oaUsage `json:"usage"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return true
			}

			var blocks []content.Block
			var calls []ToolCallBlock
			for _, c := range chunk.Choices {
				if c.Delta.Content != "" {
					blocks = append(blocks, content.Block{Type: content.BlockText, Text: c.Delta.Content})
				}
				for _, tc := range c.Delta.ToolCalls {
					acc, ok := toolAccum[tc.Index]
					if !ok {
						acc = &oaToolCall{ID: tc.ID}
						acc.Function.Name = tc.Function.Name
						toolAccum[tc.Index] = acc
					}
					acc.Function.Arguments += tc.Function.Arguments
					calls = append(calls, ParseToolCallArguments(acc.ID, acc.Function.Name, acc.Function.Arguments))
				}
			}
			if chunk.Usage != nil {
				u := Usage{
					InputTokens:  FoldCacheTokens(chunk.Usage.PromptTokens, chunk.Usage.PromptTokensDetails.CachedTokens, 0),
					OutputTokens: chunk.Usage.CompletionTokens,
				}
				finalUsage = &u
			}

			out <- StreamChunk{ContentDelta: blocks, ToolCalls: calls, RawChunk: ev.Data}
			return true
		})

		out <- StreamChunk{Done: true, Usage: finalUsage, RawChunk: accumulated.String()}
	}()
	return out, nil
}

// WithModel returns a shallow copy bound to a specific model name, since one
// OpenAICompatible value is shared across every model that routes through
// the same backend/credential scheme.
func (p *OpenAICompatible) WithModel(model string) *OpenAICompatible {
	clone := *p
	clone.model = model
	return &clone
}
