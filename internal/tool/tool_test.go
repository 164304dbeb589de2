package tool_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/tool"
)

func TestMergeRejectsDuplicateNames(t *testing.T) {
	static := []tool.Descriptor{{Name: "search"}}
	dynamic := []tool.Descriptor{{Name: "search"}}
	_, err := tool.Merge(static, dynamic, tool.Choice{}, nil)
	require.Error(t, err)
}

func TestMergeDefaultsToAuto(t *testing.T) {
	cfg, err := tool.Merge([]tool.Descriptor{{Name: "a"}}, nil, tool.Choice{}, nil)
	require.NoError(t, err)
	assert.Equal(t, tool.ChoiceAuto, cfg.Choice.Mode)
}

func TestMergeSpecificMustReferenceExistingTool(t *testing.T) {
	_, err := tool.Merge([]tool.Descriptor{{Name: "a"}}, nil, tool.Choice{Mode: tool.ChoiceSpecific, Name: "b"}, nil)
	require.Error(t, err)
}

func TestCoerceImplicitTool(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	cfg := tool.CoerceImplicitTool(schema)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, tool.ImplicitToolName, cfg.Tools[0].Name)
	assert.Equal(t, tool.ChoiceSpecific, cfg.Choice.Mode)
	assert.Equal(t, tool.ImplicitToolName, cfg.Choice.Name)
}

func TestValidateParallelSupport(t *testing.T) {
	yes := true
	cfg := &tool.Config{ParallelOK: &yes}
	assert.NoError(t, tool.ValidateParallelSupport(cfg, true))
	assert.Error(t, tool.ValidateParallelSupport(cfg, false))
	assert.NoError(t, tool.ValidateParallelSupport(nil, false))
}
