// Package tokencount estimates prompt size before a provider call returns
// real usage numbers. The teacher's proxy handler ran every outbound request
// body through tiktoken's cl100k_base encoding to log an approximate token
// count; here the same estimate runs over a content.Message so the gateway
// can log prompt size up front, independent of which provider and
// wire format the request eventually gets translated into.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/relaygate/relaygate/internal/content"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// EstimateText returns the cl100k_base token count for a raw string, or 0 if
// the encoding table could not be loaded.
func EstimateText(text string) int {
	tke, err := encoding()
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

// EstimateMessage sums the estimate across every text-bearing block in a
// content.Message: text blocks, raw text blocks, and tool results, which are
// the block types that contribute meaningfully to prompt size. Tool calls,
// files, and thoughts are not charged against this estimate since their
// actual token cost is provider-specific and unknowable from the block
// alone.
func EstimateMessage(m content.Message) int {
	var sb strings.Builder
	for _, turn := range m.Turns {
		for _, block := range turn.Content {
			switch block.Type {
			case content.BlockText:
				sb.WriteString(block.Text)
			case content.BlockRawText:
				sb.WriteString(block.Text)
			case content.BlockToolResult:
				sb.WriteString(block.Result)
			}
			sb.WriteByte('\n')
		}
	}
	return EstimateText(sb.String())
}
