// Package streaming implements C9: the provider-agnostic layer every
// adapter's normalized StreamChunk channel passes through before it reaches
// a caller — first-chunk liveness, tool-call delta accumulation as a
// second-pass safety net, final-usage aggregation, and stream
// multiplexing.
//
// Grounded on internal/handlers/proxy.go's handleStreamingResponse relay
// loop in the teacher: that loop read one upstream SSE stream and wrote one
// downstream SSE stream using a single StreamState accumulator. This
// package generalizes the same "accumulate while relaying" shape to
// multiple independent consumers (a client response writer and a
// persistence writer) and adds the liveness gate spec §4.9 requires that
// the teacher's proxy never needed (it had no concept of inference
// succeeding or failing based on whether any bytes arrived).
package streaming

import (
	"context"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/providers"
)

// Session is a live stream that has already passed the first-chunk
// liveness gate.
type Session struct {
	ProviderName string
	chunks       <-chan providers.StreamChunk
}

// Open reads exactly one chunk off raw before returning. If raw closes
// without ever yielding a chunk, that is reported as InferenceServer per
// spec §4.9 rather than silently handing the caller an empty stream.
func Open(ctx context.Context, providerName string, raw <-chan providers.StreamChunk) (*Session, error) {
	select {
	case chunk, ok := <-raw:
		if !ok {
			return nil, gwerrors.InferenceServer(providerName, "", "", "Stream ended before first chunk")
		}
		out := make(chan providers.StreamChunk, 1)
		go relay(ctx, chunk, raw, out)
		return &Session{ProviderName: providerName, chunks: out}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// relay forwards first, then every subsequent chunk off raw, until raw
// closes or ctx is cancelled. Closing out signals end of stream to every
// consumer of Chunks.
func relay(ctx context.Context, first providers.StreamChunk, raw <-chan providers.StreamChunk, out chan<- providers.StreamChunk) {
	defer close(out)
	select {
	case out <- first:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case chunk, ok := <-raw:
			if !ok {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Chunks returns the gated, ordered chunk sequence. Dropping the returned
// channel's reader and cancelling ctx (spec §5 "dropping the returned
// stream object closes the event source") is the only cancellation path;
// the adapter goroutine feeding raw observes ctx itself.
func (s *Session) Chunks() <-chan providers.StreamChunk { return s.chunks }

// Tee duplicates a gated chunk sequence into n independent output channels
// so, e.g., the HTTP boundary can forward chunks to the client while a
// second consumer accumulates the full response for C10 persistence —
// spec §4.9's stream multiplexing. Each output channel must be drained or
// the whole tee stalls, mirroring the teacher's single-consumer relay loop
// generalized to many.
func Tee(ctx context.Context, src <-chan providers.StreamChunk, n int) []<-chan providers.StreamChunk {
	outs := make([]chan providers.StreamChunk, n)
	result := make([]<-chan providers.StreamChunk, n)
	for i := range outs {
		outs[i] = make(chan providers.StreamChunk, 8)
		result[i] = outs[i]
	}
	go func() {
		defer func() {
			for _, o := range outs {
				close(o)
			}
		}()
		for {
			select {
			case chunk, ok := <-src:
				if !ok {
					return
				}
				for _, o := range outs {
					select {
					case o <- chunk:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return result
}

// ToolCallAccumulator merges streamed tool-call deltas by id into complete
// raw_arguments_string payloads, per spec §4.9: "a chunk carrying a
// tool_call_id starts a new accumulator; subsequent deltas with the same id
// concatenate". Adapters already perform this against their own wire
// deltas before producing ToolCallBlock values; this accumulator is the
// provider-agnostic second pass the core applies so a multiplexed consumer
// sees identical merged results regardless of which adapter produced the
// stream.
type ToolCallAccumulator struct {
	order []string
	byID  map[string]*providers.ToolCallBlock
}

// NewToolCallAccumulator returns an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byID: map[string]*providers.ToolCallBlock{}}
}

// Accumulate folds one chunk's tool-call deltas into the running state.
func (a *ToolCallAccumulator) Accumulate(deltas []providers.ToolCallBlock) {
	for _, d := range deltas {
		existing, ok := a.byID[d.ID]
		if !ok {
			cp := d
			a.byID[d.ID] = &cp
			a.order = append(a.order, d.ID)
			continue
		}
		existing.RawArgumentsString += d.RawArgumentsString
		if d.Name != "" {
			existing.Name = d.Name
		}
		if d.RawName != "" {
			existing.RawName = d.RawName
		}
		if d.ParsedArguments != nil {
			existing.ParsedArguments = d.ParsedArguments
		}
	}
}

// Finalized returns the accumulated tool calls in first-seen order.
func (a *ToolCallAccumulator) Finalized() []providers.ToolCallBlock {
	out := make([]providers.ToolCallBlock, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

// Collector accumulates the raw per-chunk response strings and the final
// non-null usage report for a stream, for callers that opt into the
// tensorzero_raw_response/tensorzero_raw_chunk-equivalent passthrough (spec
// §4.9 names the field this way in the original; relaygate's wire
// equivalent lives at the HTTP boundary as raw_response/raw_chunk).
// Usage aggregation takes the final non-null report and discards earlier
// partials, per spec §4.9.
type Collector struct {
	rawChunks  []string
	toolCalls  *ToolCallAccumulator
	finalUsage *providers.Usage
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{toolCalls: NewToolCallAccumulator()}
}

// Observe folds one chunk into the collector's running state. Call this
// once per chunk as a Session is drained.
func (c *Collector) Observe(chunk providers.StreamChunk) {
	if chunk.RawChunk != "" {
		c.rawChunks = append(c.rawChunks, chunk.RawChunk)
	}
	if len(chunk.ToolCalls) > 0 {
		c.toolCalls.Accumulate(chunk.ToolCalls)
	}
	if chunk.Usage != nil {
		c.finalUsage = chunk.Usage
	}
}

// RawChunks returns every observed raw per-provider chunk body, in receive
// order.
func (c *Collector) RawChunks() []string { return c.rawChunks }

// FinalUsage returns the last non-null usage report observed, or nil if
// the stream never reported one.
func (c *Collector) FinalUsage() *providers.Usage { return c.finalUsage }

// ToolCalls returns the fully accumulated tool calls observed across the
// stream.
func (c *Collector) ToolCalls() []providers.ToolCallBlock { return c.toolCalls.Finalized() }

// Drain reads every chunk from a Session, feeding a Collector and
// forwarding each chunk unchanged to a callback (typically an SSE writer
// at the HTTP boundary). Drain returns once the session closes or ctx is
// cancelled, matching the teacher's relay loop shape but with the
// accumulate/forward steps split apart so either can be reused alone.
func Drain(ctx context.Context, s *Session, collector *Collector, forward func(providers.StreamChunk)) {
	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return
			}
			if collector != nil {
				collector.Observe(chunk)
			}
			if forward != nil {
				forward(chunk)
			}
		case <-ctx.Done():
			return
		}
	}
}
