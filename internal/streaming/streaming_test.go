package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/providers"
)

func TestOpenRejectsEmptyStream(t *testing.T) {
	raw := make(chan providers.StreamChunk)
	close(raw)
	_, err := Open(context.Background(), "dummy", raw)
	ge, ok := gwerrors.As(err, gwerrors.KindInferenceServer)
	require.True(t, ok)
	assert.Equal(t, "dummy", ge.ProviderType)
	assert.Contains(t, ge.Message, "before first chunk")
}

func TestOpenYieldsFirstChunkThenRest(t *testing.T) {
	raw := make(chan providers.StreamChunk, 2)
	raw <- providers.StreamChunk{ContentDelta: []content.Block{{Type: content.BlockText, Text: "a"}}}
	raw <- providers.StreamChunk{ContentDelta: []content.Block{{Type: content.BlockText, Text: "b"}}, Done: true}
	close(raw)

	sess, err := Open(context.Background(), "dummy", raw)
	require.NoError(t, err)

	var texts []string
	for chunk := range sess.Chunks() {
		for _, b := range chunk.ContentDelta {
			texts = append(texts, b.Text)
		}
	}
	assert.Equal(t, []string{"a", "b"}, texts)
}

func TestCollectorTakesFinalUsage(t *testing.T) {
	c := NewCollector()
	u1 := providers.Usage{InputTokens: 1, OutputTokens: 1}
	u2 := providers.Usage{InputTokens: 10, OutputTokens: 20}
	c.Observe(providers.StreamChunk{RawChunk: "{\"a\":1}", Usage: &u1})
	c.Observe(providers.StreamChunk{RawChunk: "{\"a\":2}"})
	c.Observe(providers.StreamChunk{RawChunk: "{\"a\":3}", Usage: &u2, Done: true})

	require.NotNil(t, c.FinalUsage())
	assert.Equal(t, u2, *c.FinalUsage())
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, c.RawChunks())
}

func TestToolCallAccumulatorConcatenatesById(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Accumulate([]providers.ToolCallBlock{{ID: "call_1", Name: "get_weather", RawArgumentsString: `{"loc`}})
	acc.Accumulate([]providers.ToolCallBlock{{ID: "call_1", RawArgumentsString: `ation":"NYC"}`}})
	acc.Accumulate([]providers.ToolCallBlock{{ID: "call_2", Name: "get_time", RawArgumentsString: `{}`}})

	finalized := acc.Finalized()
	require.Len(t, finalized, 2)
	assert.Equal(t, "call_1", finalized[0].ID)
	assert.Equal(t, `{"location":"NYC"}`, finalized[0].RawArgumentsString)
	assert.Equal(t, "call_2", finalized[1].ID)
}

func TestTeeDuplicatesToAllConsumers(t *testing.T) {
	raw := make(chan providers.StreamChunk, 2)
	raw <- providers.StreamChunk{RawChunk: "one"}
	raw <- providers.StreamChunk{RawChunk: "two", Done: true}
	close(raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	outs := Tee(ctx, raw, 2)
	require.Len(t, outs, 2)

	for _, out := range outs {
		var got []string
		for chunk := range out {
			got = append(got, chunk.RawChunk)
		}
		assert.Equal(t, []string{"one", "two"}, got)
	}
}

func TestDrainStopsOnCancellation(t *testing.T) {
	raw := make(chan providers.StreamChunk)
	sess := &Session{ProviderName: "dummy", chunks: raw}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Drain(ctx, sess, NewCollector(), nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after cancellation")
	}
}
