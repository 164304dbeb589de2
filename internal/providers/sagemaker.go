package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemakerruntime/types"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Sagemaker ships an OpenAI-protocol body over a Sagemaker real-time
// endpoint's InvokeEndpoint/InvokeEndpointWithResponseStream byte stream
// (spec §4.5). Non-streaming responses are plain OpenAI-shaped JSON;
// streaming responses are an opaque chunk stream that is NOT
// framed as SSE by Sagemaker itself. InferStream concatenates the payload
// parts in arrival order and feeds the bytes to ScanSSE; it prepends no
// synthetic event and does not treat a part boundary as a frame boundary, so
// only SSE frames that the model server itself writes are parsed.
type Sagemaker struct {
	name         string
	endpointName string
	contentType  string
	inner        *OpenAICompatible // body builder/parser (OpenAI protocol)
	client       *sagemakerruntime.Client
}

func NewSagemaker(region, endpointName string, inner *OpenAICompatible) (*Sagemaker, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(fmt.Sprintf("loading AWS config: %v", err))
	}
	return &Sagemaker{
		name:         "aws_sagemaker",
		endpointName: endpointName,
		contentType:  "application/json",
		inner:        inner,
		client:       sagemakerruntime.NewFromConfig(cfg),
	}, nil
}

func (p *Sagemaker) Name() string                   { return p.name }
func (p *Sagemaker) SupportsStreaming() bool         { return true }
func (p *Sagemaker) SupportsParallelToolCalls() bool { return p.inner.SupportsParallelToolCalls() }

// WrapRequestBody is the identity transform: the inner OpenAI-protocol body
// is exactly what the endpoint's model server expects.
func (p *Sagemaker) WrapRequestBody(inner []byte) ([]byte, error) { return inner, nil }

// UnwrapResponseBody is the identity transform for non-streaming calls.
func (p *Sagemaker) UnwrapResponseBody(outer []byte) ([]byte, error) { return outer, nil }

func (p *Sagemaker) Infer(ctx context.Context, creds Credentials, req ModelInferenceRequest) (*ProviderInferenceResponse, error) {
	body := p.inner.buildRequest(p.inner.model, req)
	body.Stream = false
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}

	out, err := p.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(p.endpointName),
		ContentType:  aws.String(p.contentType),
		Body:         raw,
	})
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(raw), "", err.Error()).Wrap(err)
	}

	var parsed oaResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, classifyParseError(p.name, string(raw), string(out.Body), err)
	}
	if parsed.Error != nil {
		return nil, gwerrors.InferenceServer(p.name, string(raw), string(out.Body), parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, gwerrors.InferenceServer(p.name, string(raw), string(out.Body), "no choices in response")
	}

	choice := parsed.Choices[0]
	usage := Usage{}
	if parsed.Usage != nil {
		usage.InputTokens = FoldCacheTokens(parsed.Usage.PromptTokens, parsed.Usage.PromptTokensDetails.CachedTokens, 0)
		usage.OutputTokens = parsed.Usage.CompletionTokens
	}
	return &ProviderInferenceResponse{
		Content:      oaMessageToBlocks(choice.Message),
		Usage:        usage,
		RawRequest:   string(raw),
		RawResponse:  string(out.Body),
		FinishReason: NormalizeStopReason("openai", choice.FinishReason),
	}, nil
}

func (p *Sagemaker) InferStream(ctx context.Context, creds Credentials, req ModelInferenceRequest) (<-chan StreamChunk, error) {
	body := p.inner.buildRequest(p.inner.model, req)
	body.Stream = true
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.InvalidProviderConfig(err.Error())
	}

	resp, err := p.client.InvokeEndpointWithResponseStream(ctx, &sagemakerruntime.InvokeEndpointWithResponseStreamInput{
		EndpointName: aws.String(p.endpointName),
		ContentType:  aws.String(p.contentType),
		Body:         raw,
	})
	if err != nil {
		return nil, gwerrors.InferenceClient(p.name, 0, string(raw), "", err.Error()).Wrap(err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		// Sagemaker parts arrive unframed; buffer them and hand the
		// concatenated byte stream to the shared SSE scanner, which
		// tolerates partial frames across Read calls the same way it does
		// for a real HTTP body.
		pr, pw := synthesizeSSEPipe()
		go func() {
			defer pw.Close()
			for event := range stream.Events() {
				part, ok := event.(*smtypes.ResponseStreamMemberPayloadPart)
				if !ok {
					continue
				}
				pw.Write(part.Value.Bytes)
			}
		}()

		toolAccum := map[int]*oaToolCall{}
		var finalUsage *Usage
		_ = ScanSSE(pr, func(ev SSEEvent) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			if ev.Data == "[DONE]" {
				return false
			}
			var frame struct {
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
				} `json:"choices"`
				Usage *oaUsage `json:"usage"`
			}
			if json.Unmarshal([]byte(ev.Data), &frame) != nil {
				return true
			}
			var blocks []content.Block
			var calls []ToolCallBlock
			for _, c := range frame.Choices {
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
			if frame.Usage != nil {
				u := Usage{InputTokens: FoldCacheTokens(frame.Usage.PromptTokens, frame.Usage.PromptTokensDetails.CachedTokens, 0), OutputTokens: frame.Usage.CompletionTokens}
				finalUsage = &u
			}
			out <- StreamChunk{ContentDelta: blocks, ToolCalls: calls, RawChunk: ev.Data}
			return true
		})
		out <- StreamChunk{Done: true, Usage: finalUsage}
	}()
	return out, nil
}

// synthesizeSSEPipe returns an in-process pipe so Sagemaker's unframed part
// stream can be fed through the same bufio.Scanner-based ScanSSE used by
// every HTTP-backed adapter, instead of duplicating frame-parsing logic.
func synthesizeSSEPipe() (*bytesPipeReader, *bytesPipeWriter) {
	r, w := newBytesPipe()
	return r, w
}

type bytesPipeReader struct{ ch chan []byte; buf bytes.Buffer }
type bytesPipeWriter struct{ ch chan []byte }

func newBytesPipe() (*bytesPipeReader, *bytesPipeWriter) {
	ch := make(chan []byte, 16)
	return &bytesPipeReader{ch: ch}, &bytesPipeWriter{ch: ch}
}

func (w *bytesPipeWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	w.ch <- cp
	return len(p), nil
}

func (w *bytesPipeWriter) Close() error {
	close(w.ch)
	return nil
}

func (r *bytesPipeReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		chunk, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.buf.Write(chunk)
	}
	return r.buf.Read(p)
}
