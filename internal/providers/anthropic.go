package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/tool"
)

// Anthropic implements the Messages API wire format. Grounded on the
// teacher's internal/providers/anthropic.go (which, being the proxy's
// native format, was a near-passthrough) generalized into a full adapter
// since relaygate's core format is provider-agnostic, not Anthropic-shaped.
type Anthropic struct {
	name    string
	baseURL string
	model   string
	version string
}

func NewAnthropic() *Anthropic {
	return &Anthropic{name: "anthropic", baseURL: "https://api.anthropic.com/v1/messages", version: "2023-06-01"}
}

// NewBedrockAnthropic reuses the same wire-body builder/parser for the
// Bedrock-hosted Anthropic models; only the transport differs (see
// bedrock.go's WrappedProvider use of this type's body builder).
func NewBedrockAnthropic() *Anthropic {
	return &Anthropic{name: "bedrock-anthropic", version: "bedrock-2023-05-31"}
}

func (p *Anthropic) Name() string                   { return p.name }
func (p *Anthropic) SupportsStreaming() bool         { return true }
func (p *Anthropic) SupportsParallelToolCalls() bool { return true }

type anthMessage struct {
	Role    string        `json:"role"`
	Content []anthContent `json:"content"`
}

type anthContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthRequest struct {
	Model         string        `json:"model"`
	System        string        `json:"system,omitempty"`
	Messages      []anthMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Tools         []anthTool    `json:"tools,omitempty"`
	ToolChoice    any           `json:"tool_choice,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type anthUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type anthResponse struct {
	Content    []anthContent `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      anthUsage     `json:"usage"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) buildRequest(req ModelInferenceRequest) anthRequest {
	body := anthRequest{Model: p.model, System: req.System, Temperature: req.Temperature, TopP: req.TopP, StopSequences: req.StopSequences}
	body.MaxTokens = 4096
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}
	for _, turn := range req.Messages.Turns {
		if turn.Role == content.RoleSystem {
			continue
		}
		body.Messages = append(body.Messages, turnToAnthMessage(turn))
	}
	if req.ToolConfig != nil {
		for _, d := range req.ToolConfig.Tools {
			body.Tools = append(body.Tools, anthTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
		}
		body.ToolChoice = toolChoiceToAnth(req.ToolConfig.Choice)
	}
	return body
}

func toolChoiceToAnth(c tool.Choice) any {
	switch c.Mode {
	case tool.ChoiceNone:
		return map[string]string{"type": "none"}
	case tool.ChoiceRequired:
		return map[string]string{"type": "any"}
	case tool.ChoiceSpecific:
		return map[string]string{"type": "tool", "name": c.Name}
	default:
		return map[string]string{"type": "auto"}
	}
}

func turnToAnthMessage(turn content.Turn) anthMessage {
	role := "user"
	if turn.Role == content.RoleAssistant {
		role = "assistant"
	}
	var parts []anthContent
	for _, b := range turn.Content {
		switch b.Type {
		case content.BlockText, content.BlockRawText:
			parts = append(parts, anthContent{Type: "text", Text: b.Text})
		case content.BlockToolCall:
			parts = append(parts, anthContent{Type: "tool_use", ID: b.ToolCallID, Name: b.ToolName, Input: json.RawMessage(b.RawArgs)})
		case content.BlockToolResult:
			parts = append(parts, anthContent{Type: "tool_result", ToolUseID: b.ToolResultID, Content: b.Result})
			role = "user"
		}
	}
	return anthMessage{Role: role, Content: parts}
}

func anthContentToBlocks(parts []anthContent) []content.Block {
	var blocks []content.Block
	for _, c := range parts {
		switch c.Type {
		case "text":
			blocks = append(blocks, content.Block{Type: content.BlockText, Text: c.Text})
		case "tool_use":
			norm := ParseToolCallArguments(c.ID, c.Name, string(c.Input))
			blocks = append(blocks, content.Block{Type: content.BlockToolCall, ToolCallID: norm.ID, ToolName: norm.Name, RawName: norm.RawName, RawArgs: norm.RawArgumentsString, ParsedArgs: norm.ParsedArguments})
		}
	}
	return blocks
}

func (p *Anthropic) doCall(ctx context.Context, creds Credentials, body anthRequest) ([]byte, string, error) {
	raw, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, newJSONBodyReader(raw))
	if err != nil {
		return nil, string(raw), gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", p.version)
	if creds.APIKey == "" {
		return nil, string(raw), gwerrors.APIKeyMissing(p.name)
	}
	httpReq.Header.Set("x-api-key", creds.APIKey)
	respBody, err := DoJSONRequest(SharedHTTPClient, httpReq, p.name, string(raw))
	return respBody, string(raw), err
}

func (p *Anthropic) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	body := p.buildRequest(req)
	body.Stream = false
	respBody, rawReq, err := p.doCall(ctx, creds, body)
	if err != nil {
		return nil, err
	}
	var parsed anthResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, classifyParseError(p.name, rawReq, string(respBody), err)
	}
	if parsed.Error != nil {
		return nil, gwerrors.InferenceServer(p.name, rawReq, string(respBody), parsed.Error.Message)
	}

	return &ProviderInferenceResponse{
		Content:     anthContentToBlocks(parsed.Content),
		Usage: Usage{
			InputTokens:  FoldCacheTokens(parsed.Usage.InputTokens, parsed.Usage.CacheReadInputTokens, parsed.Usage.CacheCreationInputTokens),
			OutputTokens: parsed.Usage.OutputTokens,
		},
		Latency:      Latency{Streaming: false},
		RawRequest:   rawReq,
		RawResponse:  string(respBody),
		FinishReason: NormalizeStopReason(p.name, parsed.StopReason),
	}, nil
}

func (p *Anthropic) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	body := p.buildRequest(req)
	body.Stream = true
	raw, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, newJSONBodyReader(raw))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", p.version)
	httpReq.Header.Set("Accept", "text/event-stream")
	if creds.APIKey == "" {
		return nil, gwerrors.APIKeyMissing(p.name)
	}
	httpReq.Header.Set("x-api-key", creds.APIKey)

	resp, err := SharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(raw), "", err.Error()).Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := DecodeBody(resp)
		resp.Body.Close()
		return nil, classifyHTTPError(p.name, resp.StatusCode, string(raw), errBody)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		var accumulated strings.Builder
		toolArgs := map[int]*anthContent{}
		var finalUsage *Usage

		_ = ScanSSE(resp.Body, func(ev SSEEvent) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			accumulated.WriteString(ev.Data)

			var event struct {
				Type  string `json:"type"`
				Index int    `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
				ContentBlock *anthContent `json:"content_block"`
				Usage        *anthUsage   `json:"usage"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				return true
			}

			switch event.Type {
			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					toolArgs[event.Index] = &anthContent{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
				}
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					out <- StreamChunk{ContentDelta: []content.Block{{Type: content.BlockText, Text: event.Delta.Text}}, RawChunk: ev.Data}
				} else if event.Delta.Type == "input_json_delta" {
					if acc, ok := toolArgs[event.Index]; ok {
						acc.Input = append(acc.Input, []byte(event.Delta.PartialJSON)...)
						tc := ParseToolCallArguments(acc.ID, acc.Name, string(acc.Input))
						out <- StreamChunk{ToolCalls: []ToolCallBlock{tc}, RawChunk: ev.Data}
					}
				}
			case "message_delta":
				if event.Usage != nil {
					u := Usage{InputTokens: FoldCacheTokens(event.Usage.InputTokens, event.Usage.CacheReadInputTokens, event.Usage.CacheCreationInputTokens), OutputTokens: event.Usage.OutputTokens}
					finalUsage = &u
				}
			case "message_stop":
				return false
			}
			return true
		})
		out <- StreamChunk{Done: true, Usage: finalUsage, RawChunk: accumulated.String()}
	}()
	return out, nil
}

// WithModel returns a shallow copy bound to a specific model name.
func (p *Anthropic) WithModel(model string) *Anthropic {
	clone := *p
	clone.model = model
	return &clone
}
