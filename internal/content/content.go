// Package content implements the provider-agnostic message/content-block
// model (spec C2): the shape every variant compiles into before it reaches
// a provider adapter, and the sanitization/merge operations that run on it.
//
// Grounded on internal/providers/base.go's content-block conversion helpers
// in the teacher, generalized from "Anthropic struct literal" into a sum
// type that every adapter converts to and from its own wire format.
package content

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Role identifies the turn type in a Message sequence.
type Role string

const (
	RoleSystem       Role = "system"
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolProducer Role = "tool" // tool-result-producer turns
)

// BlockType tags a content Block's concrete shape.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockRawText    BlockType = "raw_text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockFile       BlockType = "file"
	BlockThought    BlockType = "thought"
	BlockUnknown    BlockType = "unknown"
)

// Recognized file mime types (spec §3).
var RecognizedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// Block is the content-block sum type. Only the fields relevant to Type are
// populated; this mirrors the teacher's JSON-tag-heavy wire structs but adds
// a discriminant instead of relying on per-provider struct identity.
type Block struct {
	Type BlockType `json:"type"`

	// Text / RawText
	Text         string         `json:"text,omitempty"`
	TemplateName string         `json:"template_name,omitempty"` // Text only
	TemplateArgs map[string]any `json:"template_args,omitempty"`

	// ToolCall
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	RawName     string `json:"raw_name,omitempty"`
	RawArgs     string `json:"raw_arguments,omitempty"`
	ParsedArgs  any    `json:"parsed_arguments,omitempty"`

	// ToolResult
	ToolResultID   string `json:"tool_result_id,omitempty"`
	ToolResultName string `json:"tool_result_name,omitempty"`
	Result         string `json:"result,omitempty"`

	// File
	FileURL      string `json:"file_url,omitempty"`
	FileData     string `json:"file_data,omitempty"` // base64 payload
	FileMimeType string `json:"file_mime_type,omitempty"`
	StoragePath  string `json:"storage_path,omitempty"`

	// Thought
	ThoughtText     string   `json:"thought_text,omitempty"`
	ThoughtSig      string   `json:"thought_signature,omitempty"`
	ThoughtSummary  []string `json:"thought_summary,omitempty"`
	ThoughtProvider string   `json:"thought_provider,omitempty"` // gate: only this provider sees it
	ThoughtOpaque   string   `json:"thought_opaque,omitempty"`   // provider-specific reasoning blob

	// Unknown
	UnknownProvider string          `json:"unknown_provider,omitempty"`
	UnknownModel    string          `json:"unknown_model,omitempty"`
	UnknownData     json.RawMessage `json:"unknown_data,omitempty"`
}

// Turn is one message in the sequence.
type Turn struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Message is the full ordered sequence of turns sent to a variant.
type Message struct {
	Turns []Turn `json:"turns"`
}

// Validate enforces the spec §3 invariants: unique ToolCall ids per
// assistant turn, every ToolResult id matches some earlier ToolCall.
func (m Message) Validate() error {
	seenCalls := map[string]bool{}
	for _, turn := range m.Turns {
		if turn.Role == RoleAssistant {
			localSeen := map[string]bool{}
			for _, b := range turn.Content {
				if b.Type == BlockToolCall {
					if localSeen[b.ToolCallID] {
						return gwerrors.InvalidRequest(fmt.Sprintf("duplicate tool_call id %q in one assistant turn", b.ToolCallID))
					}
					localSeen[b.ToolCallID] = true
					seenCalls[b.ToolCallID] = true
				}
			}
		}
		for _, b := range turn.Content {
			if b.Type == BlockToolResult {
				if !seenCalls[b.ToolResultID] {
					return gwerrors.InvalidRequest(fmt.Sprintf("tool_result id %q matches no earlier tool_call", b.ToolResultID))
				}
			}
			if b.Type == BlockFile && b.FileData == "" && b.FileURL == "" && b.StoragePath == "" {
				// a File with neither data, URL, nor a reconstructed storage
				// path is only valid when deserializing from the store.
				return gwerrors.InvalidRequest("file block has no data, url, or storage_path")
			}
		}
	}
	return nil
}

// DropForeignThoughts removes Thought blocks gated to a different provider
// than targetProvider, per spec §3: "dropped (with a warning) when targeting
// other providers." Returns the filtered message and the count dropped so
// the caller can log the warning with its own logger.
func DropForeignThoughts(m Message, targetProvider string) (Message, int) {
	dropped := 0
	out := Message{Turns: make([]Turn, len(m.Turns))}
	for i, turn := range m.Turns {
		filtered := make([]Block, 0, len(turn.Content))
		for _, b := range turn.Content {
			if b.Type == BlockThought && b.ThoughtProvider != "" && b.ThoughtProvider != targetProvider {
				dropped++
				continue
			}
			filtered = append(filtered, b)
		}
		out.Turns[i] = Turn{Role: turn.Role, Content: filtered}
	}
	return out, dropped
}

// ResolveFile fetches a URL-variant File block's bytes, sniffs its mime type
// and produces a Base64 block retaining the original URL. Base64 blocks pass
// through unchanged. fetch is injected so callers can control the HTTP
// client/timeout; it must return the raw body bytes.
func ResolveFile(b Block, fetch func(url string) ([]byte, error)) (Block, error) {
	if b.Type != BlockFile {
		return b, gwerrors.UnsupportedContentBlockType(string(b.Type))
	}
	if b.FileURL == "" {
		return b, nil // already base64, or a reconstruction-only block
	}
	data, err := fetch(b.FileURL)
	if err != nil {
		return b, gwerrors.BadImageFetch(b.FileURL, err.Error())
	}
	mime := sniffMime(data)
	if !RecognizedMimeTypes[mime] {
		return b, gwerrors.UnsupportedFileExtension(mime)
	}
	out := b
	out.FileData = base64.StdEncoding.EncodeToString(data)
	out.FileMimeType = mime
	return out, nil
}

func sniffMime(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	case len(data) >= 5 && string(data[:5]) == "%PDF-":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// SanitizeRawRequest replaces every file payload occurrence inside the
// serialized raw request string with a placeholder "<FILE_i>" where i is the
// zero-based index of the first occurrence of that payload in message
// order. Identical payloads share the same placeholder. Operates purely on
// strings, so it never touches bytes outside a recognized payload.
func SanitizeRawRequest(m Message, rawRequest string) string {
	order := []string{}
	seen := map[string]int{}
	for _, turn := range m.Turns {
		for _, b := range turn.Content {
			if b.Type == BlockFile && b.FileData != "" {
				if _, ok := seen[b.FileData]; !ok {
					seen[b.FileData] = len(order)
					order = append(order, b.FileData)
				}
			}
		}
	}
	out := rawRequest
	for payload, idx := range seen {
		placeholder := fmt.Sprintf("<FILE_%d>", idx)
		out = strings.ReplaceAll(out, payload, placeholder)
	}
	return out
}

// MergeAssistantContent collapses consecutive Text blocks, preserves
// ToolCalls verbatim, and moves Thought blocks to the end of the sequence —
// spec §4.2 merge_assistant_content.
func MergeAssistantContent(blocks []Block) []Block {
	var out []Block
	var thoughts []Block
	var pendingText strings.Builder
	flush := func() {
		if pendingText.Len() > 0 {
			out = append(out, Block{Type: BlockText, Text: pendingText.String()})
			pendingText.Reset()
		}
	}
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			pendingText.WriteString(b.Text)
		case BlockThought:
			thoughts = append(thoughts, b)
		default:
			flush()
			out = append(out, b)
		}
	}
	flush()
	out = append(out, thoughts...)
	return out
}

// ContentHash returns a stable identifier for a file payload, useful for
// dedup/caching keys without carrying the full payload around.
func ContentHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
