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

// Gemini implements Google's generateContent wire format, serving both
// Google AI Studio (API-key query param) and GCP Vertex (bearer token,
// project/location-scoped URL). Grounded on the teacher's
// internal/providers/gemini.go endpoint shape, extended with a Vertex mode
// per DESIGN.md's "SDKs considered and not wired" note (no
// google.golang.org/genai import; hand-rolled like every other adapter).
type Gemini struct {
	name   string
	vertex bool
	model  string

	// Google AI Studio
	studioBase string

	// Vertex
	project  string
	location string
}

func NewGemini() *Gemini {
	return &Gemini{name: "google_ai_studio", studioBase: "https://generativelanguage.googleapis.com/v1beta/models"}
}

func NewVertex(project, location string) *Gemini {
	return &Gemini{name: "gcp_vertex_gemini", vertex: true, project: project, location: location}
}

func (p *Gemini) Name() string                   { return p.name }
func (p *Gemini) SupportsStreaming() bool         { return true }
func (p *Gemini) SupportsParallelToolCalls() bool { return false }

func (p *Gemini) WithModel(model string) *Gemini {
	clone := *p
	clone.model = model
	return &clone
}

func (p *Gemini) url(stream bool) string {
	method := "generateContent"
	if stream {
		method = "streamGenerateContent?alt=sse"
	}
	if p.vertex {
		return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
			p.location, p.project, p.location, p.model, method)
	}
	return fmt.Sprintf("%s/%s:%s", p.studioBase, p.model, method)
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContentMsg struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContentMsg `json:"contents"`
	SystemInstruction *geminiContentMsg  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		TopP            *float64 `json:"topP,omitempty"`
		MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
		StopSequences   []string `json:"stopSequences,omitempty"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
	Tools []struct {
		FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
	ToolConfig *struct {
		FunctionCallingConfig struct {
			Mode                 string   `json:"mode"`
			AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
		} `json:"functionCallingConfig"`
	} `json:"toolConfig,omitempty"`
}

type geminiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContentMsg `json:"content"`
		FinishReason string           `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata geminiUsageMeta `json:"usageMetadata"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Gemini) buildRequest(req ModelInferenceRequest) geminiRequest {
	var body geminiRequest
	if req.System != "" {
		body.SystemInstruction = &geminiContentMsg{Role: "system", Parts: []geminiPart{{Text: req.System}}}
	}
	for _, turn := range req.Messages.Turns {
		if turn.Role == content.RoleSystem {
			continue
		}
		body.Contents = append(body.Contents, turnToGeminiContent(turn))
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.TopP = req.TopP
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	body.GenerationConfig.StopSequences = req.StopSequences
	if req.JSONMode == JSONModeOn || req.JSONMode == JSONModeStrict {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	if req.ToolConfig != nil && len(req.ToolConfig.Tools) > 0 {
		var decls []geminiFuncDecl
		for _, d := range req.ToolConfig.Tools {
			decls = append(decls, geminiFuncDecl{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		}
		body.Tools = []struct {
			FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
		}{{FunctionDeclarations: decls}}
		body.ToolConfig = &struct {
			FunctionCallingConfig struct {
				Mode                 string   `json:"mode"`
				AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
			} `json:"functionCallingConfig"`
		}{}
		switch req.ToolConfig.Choice.Mode {
		case tool.ChoiceNone:
			body.ToolConfig.FunctionCallingConfig.Mode = "NONE"
		case tool.ChoiceRequired:
			body.ToolConfig.FunctionCallingConfig.Mode = "ANY"
		case tool.ChoiceSpecific:
			body.ToolConfig.FunctionCallingConfig.Mode = "ANY"
			body.ToolConfig.FunctionCallingConfig.AllowedFunctionNames = []string{req.ToolConfig.Choice.Name}
		default:
			body.ToolConfig.FunctionCallingConfig.Mode = "AUTO"
		}
	}
	return body
}

func turnToGeminiContent(turn content.Turn) geminiContentMsg {
	role := "user"
	if turn.Role == content.RoleAssistant {
		role = "model"
	}
	var parts []geminiPart
	for _, b := range turn.Content {
		switch b.Type {
		case content.BlockText, content.BlockRawText:
			parts = append(parts, geminiPart{Text: b.Text})
		case content.BlockToolCall:
			parts = append(parts, geminiPart{FunctionCall: &geminiFuncCall{Name: b.ToolName, Args: json.RawMessage(b.RawArgs)}})
		case content.BlockToolResult:
			parts = append(parts, geminiPart{FunctionResponse: &geminiFuncResp{Name: b.ToolResultName, Response: map[string]any{"result": b.Result}}})
			role = "function"
		}
	}
	return geminiContentMsg{Role: role, Parts: parts}
}

func geminiContentToBlocks(msg geminiContentMsg) []content.Block {
	var blocks []content.Block
	for i, part := range msg.Parts {
		if part.Text != "" {
			blocks = append(blocks, content.Block{Type: content.BlockText, Text: part.Text})
		}
		if part.FunctionCall != nil {
			id := fmt.Sprintf("call_%d", i)
			norm := ParseToolCallArguments(id, part.FunctionCall.Name, string(part.FunctionCall.Args))
			blocks = append(blocks, content.Block{Type: content.BlockToolCall, ToolCallID: norm.ID, ToolName: norm.Name, RawName: norm.RawName, RawArgs: norm.RawArgumentsString, ParsedArgs: norm.ParsedArguments})
		}
	}
	return blocks
}

func (p *Gemini) authRequest(httpReq *http.Request, creds Credentials) error {
	if creds.APIKey == "" {
		return gwerrors.APIKeyMissing(p.name)
	}
	if p.vertex {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	} else {
		q := httpReq.URL.Query()
		q.Set("key", creds.APIKey)
		httpReq.URL.RawQuery = q.Encode()
	}
	return nil
}

func (p *Gemini) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	body := p.buildRequest(req)
	raw, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(false), newJSONBodyReader(raw))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := p.authRequest(httpReq, creds); err != nil {
		return nil, err
	}
	respBody, err := DoJSONRequest(SharedHTTPClient, httpReq, p.name, string(raw))
	if err != nil {
		return nil, err
	}
	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, classifyParseError(p.name, string(raw), string(respBody), err)
	}
	if parsed.Error != nil {
		return nil, gwerrors.InferenceServer(p.name, string(raw), string(respBody), parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, gwerrors.InferenceServer(p.name, string(raw), string(respBody), "no candidates in response")
	}
	cand := parsed.Candidates[0]
	return &ProviderInferenceResponse{
		Content: geminiContentToBlocks(cand.Content),
		Usage: Usage{
			InputTokens:  FoldCacheTokens(parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CachedContentTokenCount, 0),
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		Latency:      Latency{Streaming: false},
		RawRequest:   string(raw),
		RawResponse:  string(respBody),
		FinishReason: strings.ToLower(cand.FinishReason),
	}, nil
}

func (p *Gemini) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	body := p.buildRequest(req)
	raw, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(true), newJSONBodyReader(raw))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if err := p.authRequest(httpReq, creds); err != nil {
		return nil, err
	}

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
		var finalUsage *Usage

		_ = ScanSSE(resp.Body, func(ev SSEEvent) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			accumulated.WriteString(ev.Data)
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return true
			}
			if len(chunk.Candidates) > 0 {
				blocks := geminiContentToBlocks(chunk.Candidates[0].Content)
				var textBlocks []content.Block
				var calls []ToolCallBlock
				for _, b := range blocks {
					if b.Type == content.BlockText {
						textBlocks = append(textBlocks, b)
					} else if b.Type == content.BlockToolCall {
						calls = append(calls, ToolCallBlock{ID: b.ToolCallID, Name: b.ToolName, RawArgumentsString: b.RawArgs, ParsedArguments: b.ParsedArgs})
					}
				}
				out <- StreamChunk{ContentDelta: textBlocks, ToolCalls: calls, RawChunk: ev.Data}
			}
			if chunk.UsageMetadata.PromptTokenCount > 0 || chunk.UsageMetadata.CandidatesTokenCount > 0 {
				u := Usage{InputTokens: FoldCacheTokens(chunk.UsageMetadata.PromptTokenCount, chunk.UsageMetadata.CachedContentTokenCount, 0), OutputTokens: chunk.UsageMetadata.CandidatesTokenCount}
				finalUsage = &u
			}
			return true
		})
		out <- StreamChunk{Done: true, Usage: finalUsage, RawChunk: accumulated.String()}
	}()
	return out, nil
}
