package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Bedrock ships another adapter's wire body over AWS's InvokeModel
// transport (spec §4.5's WrappedProvider), using
// aws-sdk-go-v2/service/bedrockruntime purely for signing and HTTP
// transport — never for decoding the model response, which stays in the
// inner adapter's own struct shapes per the teacher's
// hand-rolled-JSON-struct idiom (see DESIGN.md).
type Bedrock struct {
	name     string
	region   string
	modelID  string
	inner    *Anthropic // body builder/parser for bedrock-hosted Anthropic models
	client   *bedrockruntime.Client
}

// NewBedrockAnthropicTransport wraps inner (built via NewBedrockAnthropic)
// with the Bedrock InvokeModel transport for the given region/model.
func NewBedrockAnthropicTransport(region, modelID string, inner *Anthropic) (*Bedrock, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("loading AWS config: %v", err))
	}
	return &Bedrock{
		name:    "aws_bedrock_anthropic",
		region:  region,
		modelID: modelID,
		inner:   inner,
		client:  bedrockruntime.NewFromConfig(cfg),
	}, nil
}

func (p *Bedrock) Name() string                   { return p.name }
func (p *Bedrock) SupportsStreaming() bool         { return true }
func (p *Bedrock) SupportsParallelToolCalls() bool { return p.inner.SupportsParallelToolCalls() }

// WrapRequestBody drops Anthropic's top-level "model" field (Bedrock
// identifies the model via the InvokeModel path, not the body) and adds
// anthropic_version, satisfying the WrappedProvider contract spec §4.5
// describes for transport-level body reshaping.
func (p *Bedrock) WrapRequestBody(inner []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	delete(m, "model")
	delete(m, "stream")
	m["anthropic_version"] = "bedrock-2023-05-31"
	return json.Marshal(m)
}

// UnwrapResponseBody is the identity transform: Bedrock's InvokeModel
// response body for an Anthropic model is already Anthropic's native
// response JSON, so inner's parser can read it unmodified.
func (p *Bedrock) UnwrapResponseBody(outer []byte) ([]byte, error) {
	return outer, nil
}

func (p *Bedrock) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	anthBody := p.inner.buildRequest(req)
	innerRaw, err := json.Marshal(anthBody)
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	wrapped, err := p.WrapRequestBody(innerRaw)
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        wrapped,
	})
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(wrapped), "", err.Error()).Wrap(err)
	}

	respBody, err := p.UnwrapResponseBody(out.Body)
	if err != nil {
		return nil, err
	}
	var parsed anthResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, classifyParseError(p.name, string(wrapped), string(respBody), err)
	}
	if parsed.Error != nil {
		return nil, gwerrors.InferenceServer(p.name, string(wrapped), string(respBody), parsed.Error.Message)
	}

	return &ProviderInferenceResponse{
		Content: anthContentToBlocks(parsed.Content),
		Usage: Usage{
			InputTokens:  FoldCacheTokens(parsed.Usage.InputTokens, parsed.Usage.CacheReadInputTokens, parsed.Usage.CacheCreationInputTokens),
			OutputTokens: parsed.Usage.OutputTokens,
		},
		RawRequest:   string(wrapped),
		RawResponse:  string(respBody),
		FinishReason: NormalizeStopReason("bedrock-anthropic", parsed.StopReason),
	}, nil
}

func (p *Bedrock) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	anthBody := p.inner.buildRequest(req)
	innerRaw, err := json.Marshal(anthBody)
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}
	wrapped, err := p.WrapRequestBody(innerRaw)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        wrapped,
	})
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(wrapped), "", err.Error()).Wrap(err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		toolArgs := map[int]*anthContent{}
		var finalUsage *Usage
		for event := range stream.Events() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			chunkEvt, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var frame struct {
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
			if err := json.Unmarshal(chunkEvt.Value.Bytes, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "content_block_start":
				if frame.ContentBlock != nil && frame.ContentBlock.Type == "tool_use" {
					toolArgs[frame.Index] = &anthContent{ID: frame.ContentBlock.ID, Name: frame.ContentBlock.Name}
				}
			case "content_block_delta":
				if frame.Delta.Type == "text_delta" && frame.Delta.Text != "" {
					out <- StreamChunk{ContentDelta: []content.Block{{Type: content.BlockText, Text: frame.Delta.Text}}}
				} else if frame.Delta.Type == "input_json_delta" {
					if acc, ok := toolArgs[frame.Index]; ok {
						acc.Input = append(acc.Input, []byte(frame.Delta.PartialJSON)...)
						out <- StreamChunk{ToolCalls: []ToolCallBlock{ParseToolCallArguments(acc.ID, acc.Name, string(acc.Input))}}
					}
				}
			case "message_delta":
				if frame.Usage != nil {
					u := Usage{InputTokens: FoldCacheTokens(frame.Usage.InputTokens, frame.Usage.CacheReadInputTokens, frame.Usage.CacheCreationInputTokens), OutputTokens: frame.Usage.OutputTokens}
					finalUsage = &u
				}
			}
		}
		out <- StreamChunk{Done: true, Usage: finalUsage}
	}()
	return out, nil
}
