package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/relaygate/internal/content"
)

func TestEstimateTextCountsTokens(t *testing.T) {
	assert.Greater(t, EstimateText("hello, world"), 0)
}

func TestEstimateTextEmptyStringIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateText(""))
}

func TestEstimateMessageSumsTextAndToolResultBlocks(t *testing.T) {
	withToolCall := content.Message{Turns: []content.Turn{
		{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "what is the weather in paris"}}},
		{Role: content.RoleAssistant, Content: []content.Block{{Type: content.BlockToolCall, ToolName: "get_weather", RawArgs: `{"city":"paris"}`}}},
		{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockToolResult, Result: "72F and sunny"}}},
	}}
	estimate := EstimateMessage(withToolCall)
	assert.Greater(t, estimate, 0)

	// Tool call argument text is not charged against the estimate, only the
	// text and tool-result blocks are.
	textOnly := content.Message{Turns: []content.Turn{
		{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "what is the weather in paris"}}},
		{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockToolResult, Result: "72F and sunny"}}},
	}}
	assert.Equal(t, EstimateMessage(textOnly), estimate)
}
