package inference

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/model"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/variant"
)

func newEchoModel(t *testing.T, behavior string) *model.Model {
	t.Helper()
	t.Setenv("DUMMY_TEST_KEY", "k")
	return &model.Model{
		Routing: []string{"dummy"},
		Providers: map[string]*model.ProviderEntry{
			"dummy": {Name: "dummy", Adapter: providers.NewDummy(behavior), Credentials: model.CredentialSource{EnvVar: "DUMMY_TEST_KEY"}},
		},
	}
}

func buildChatFunction(t *testing.T, modelName string, weight float64) (*FunctionConfig, *variant.ChatCompletion) {
	t.Helper()
	c, err := variant.CompileChatCompletion("v1", weight, modelName, providers.JSONModeOff, "", nil)
	require.NoError(t, err)
	return &FunctionConfig{
		Name: "greet",
		Type: providers.FunctionChat,
		Variants: map[string]*VariantConfig{
			"v1": {Weight: weight, Chat: c},
		},
	}, c
}

func TestDispatcherInferSucceedsWithDummyProvider(t *testing.T) {
	fn, _ := buildChatFunction(t, "dummy-model", 1)
	d := &Dispatcher{
		Functions:  map[string]*FunctionConfig{"greet": fn},
		Models:     map[string]*model.Model{"dummy-model": newEchoModel(t, "echo")},
		RandSource: rand.NewSource(1),
	}
	input := content.Message{Turns: []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "hi"}}}}}

	result, err := d.Infer(context.Background(), InferInput{FunctionName: "greet", Input: input})
	require.NoError(t, err)
	assert.Equal(t, "v1", result.VariantName)
	assert.Equal(t, "Hello, world!", result.Response.Content[0].Text)
}

func TestDispatcherInferUnknownFunction(t *testing.T) {
	d := &Dispatcher{Functions: map[string]*FunctionConfig{}}
	_, err := d.Infer(context.Background(), InferInput{FunctionName: "missing"})
	_, ok := gwerrors.As(err, gwerrors.KindInvalidRequest)
	assert.True(t, ok)
}

func TestDispatcherInferAllVariantsFailed(t *testing.T) {
	fn, _ := buildChatFunction(t, "dummy-model", 1)
	d := &Dispatcher{
		Functions:  map[string]*FunctionConfig{"greet": fn},
		Models:     map[string]*model.Model{"dummy-model": newEchoModel(t, "error")},
		RandSource: rand.NewSource(1),
	}
	_, err := d.Infer(context.Background(), InferInput{FunctionName: "greet", Input: content.Message{}})
	_, ok := gwerrors.As(err, gwerrors.KindAllVariantsFailed)
	assert.True(t, ok)
}

func TestDispatcherInferStreamFirstChunkArrives(t *testing.T) {
	fn, _ := buildChatFunction(t, "dummy-model", 1)
	d := &Dispatcher{
		Functions: map[string]*FunctionConfig{"greet": fn},
		Models:    map[string]*model.Model{"dummy-model": newEchoModel(t, "echo")},
	}
	result, err := d.InferStream(context.Background(), InferInput{FunctionName: "greet", Input: content.Message{}})
	require.NoError(t, err)
	first, ok := <-result.Stream
	require.True(t, ok)
	assert.NotEmpty(t, first.ContentDelta)
}

func TestDispatcherFeedbackValidatesTargetID(t *testing.T) {
	d := &Dispatcher{}
	_, err := d.Feedback(context.Background(), recordingFeedbackWriter{}, FeedbackInput{})
	_, ok := gwerrors.As(err, gwerrors.KindInvalidTensorzeroUUID)
	assert.True(t, ok)
}

func TestDispatcherFeedbackSucceedsWithFreshTargetID(t *testing.T) {
	d := &Dispatcher{}
	targetID, err := NewEpisodeID()
	require.NoError(t, err)
	fw := recordingFeedbackWriter{}
	feedbackID, err := d.Feedback(context.Background(), fw, FeedbackInput{TargetID: targetID, MetricName: "thumbs_up", Value: true})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.UUID{}, feedbackID)
}

type recordingFeedbackWriter struct{}

func (recordingFeedbackWriter) RecordFeedback(ctx context.Context, feedbackID uuid.UUID, in FeedbackInput) error {
	return nil
}
