package variant

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/providers"
)

func TestCompileChatCompletionRejectsBadTemplate(t *testing.T) {
	_, err := CompileChatCompletion("v1", 1, "openai::gpt-4o-mini", providers.JSONModeOff, "{{.Unclosed", nil)
	assert.Error(t, err)
}

func TestChatCompletionBuildRequestRendersSystem(t *testing.T) {
	c, err := CompileChatCompletion("v1", 1, "openai::gpt-4o-mini", providers.JSONModeOff, "You are {{.Persona}}.", nil)
	require.NoError(t, err)

	input := content.Message{Turns: []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "hi"}}}}}
	req, err := c.BuildRequest(input, BuildRequestOpts{SystemArgs: map[string]any{"Persona": "a helpful assistant"}, FunctionType: providers.FunctionChat})
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful assistant.", req.System)
	assert.Equal(t, "hi", req.Messages.Turns[0].Content[0].Text)
}

func TestChatCompletionImplicitToolCoercion(t *testing.T) {
	c, err := CompileChatCompletion("v1", 1, "openai::gpt-4o-mini", providers.JSONModeImplicitTool, "", nil)
	require.NoError(t, err)
	schema := []byte(`{"type":"object"}`)
	req, err := c.BuildRequest(content.Message{}, BuildRequestOpts{FunctionType: providers.FunctionJSON, OutputSchema: schema})
	require.NoError(t, err)
	require.NotNil(t, req.ToolConfig)
	assert.Equal(t, "respond", req.ToolConfig.Tools[0].Name)
}

func TestChatCompletionDynamicSchemaOverridesStatic(t *testing.T) {
	c, err := CompileChatCompletion("v1", 1, "m", providers.JSONModeImplicitTool, "", nil)
	require.NoError(t, err)
	req, err := c.BuildRequest(content.Message{}, BuildRequestOpts{
		FunctionType:        providers.FunctionJSON,
		OutputSchema:        []byte(`{"static":true}`),
		DynamicOutputSchema: []byte(`{"dynamic":true}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dynamic":true}`, string(req.OutputSchema))
}

func TestRunBestOfNPreservesDeclaredOrder(t *testing.T) {
	names := []string{"slow", "fast"}
	results := RunBestOfN(context.Background(), names, func(ctx context.Context, name string) (*providers.ProviderInferenceResponse, error) {
		return &providers.ProviderInferenceResponse{Content: []content.Block{{Type: content.BlockText, Text: name}}}, nil
	})
	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0].VariantName)
	assert.Equal(t, "fast", results[1].VariantName)
}

func TestSelectBestOfNTolerantOfPartialFailure(t *testing.T) {
	candidates := []Candidate{
		{VariantName: "a", Err: assertErr("boom")},
		{VariantName: "b", Response: &providers.ProviderInferenceResponse{Content: []content.Block{{Type: content.BlockText, Text: "ok"}}}},
	}
	winner, err := SelectBestOfN(context.Background(), candidates, func(ctx context.Context, successes []Candidate) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b", winner.VariantName)
}

func TestSelectBestOfNAllFailedReturnsAllVariantsFailed(t *testing.T) {
	candidates := []Candidate{{VariantName: "a", Err: assertErr("boom")}, {VariantName: "b", Err: assertErr("bust")}}
	_, err := SelectBestOfN(context.Background(), candidates, func(ctx context.Context, successes []Candidate) (int, error) { return 0, nil })
	_, ok := gwerrors.As(err, gwerrors.KindAllVariantsFailed)
	assert.True(t, ok)
}

func TestDICLRetrieveRanksBySimilarity(t *testing.T) {
	d := &DICL{K: 1, ExampleSource: func(ctx context.Context) ([]Example, error) {
		return []Example{
			{Embedding: []float64{1, 0}, Input: []content.Turn{{Role: content.RoleUser}}},
			{Embedding: []float64{0, 1}, Input: []content.Turn{{Role: content.RoleUser}}},
		}, nil
	}}
	out, err := d.Retrieve(context.Background(), []float64{0.9, 0.1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Embedding[0], 0.01)
}

func TestNewSelectorExcludesZeroWeightWhenMixed(t *testing.T) {
	sel := NewSelector([]WeightedVariant{{Name: "a", Weight: 1}, {Name: "zero", Weight: 0}}, rand.NewSource(1))
	seen := map[string]bool{}
	for {
		name, ok := sel.Next()
		if !ok {
			break
		}
		seen[name] = true
	}
	assert.True(t, seen["a"])
	assert.False(t, seen["zero"])
}

func TestNewSelectorUsesInsertionOrderWhenAllZero(t *testing.T) {
	sel := NewSelector([]WeightedVariant{{Name: "first", Weight: 0}, {Name: "second", Weight: 0}}, rand.NewSource(1))
	first, _ := sel.Next()
	second, _ := sel.Next()
	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
	assert.True(t, sel.Exhausted())
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertErr(msg string) error { return testErr(msg) }
