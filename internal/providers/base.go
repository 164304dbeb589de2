package providers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// SharedHTTPClient is the single connection-pooling client shared
// process-wide (spec §5), grounded on the teacher's handlers/proxy.go
// pattern of reusing one *http.Client across all provider calls.
var SharedHTTPClient = &http.Client{Timeout: 120 * time.Second}

// DecodeBody transparently handles gzip/brotli-encoded bodies, grounded on
// the teacher's internal/handlers/proxy.go and root new.go decompression
// branches (which handled this per-provider ad hoc; centralized here).
func DecodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// classifyHTTPError maps a non-2xx HTTP response into the taxonomy's
// InferenceClient/InferenceServer split (spec §4.5: "Any HTTP error status
// -> InferenceClient"; parse failures of a 2xx body -> InferenceServer).
func classifyHTTPError(providerType string, statusCode int, rawReq string, body []byte) error {
	return gwerrors.InferenceClient(providerType, statusCode, rawReq, string(body),
		fmt.Sprintf("provider returned HTTP %d", statusCode))
}

func classifyParseError(providerType, rawReq, rawResp string, err error) error {
	return gwerrors.InferenceServer(providerType, rawReq, rawResp,
		fmt.Sprintf("failed to parse provider response: %v", err)).Wrap(err)
}

// DoJSONRequest executes req, classifies non-2xx statuses, and returns the
// decoded body bytes. rawRequestForErrors is carried on any error it returns,
// for persistence and error attribution.
func DoJSONRequest(client *http.Client, req *http.Request, providerType, rawRequestForErrors string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.InferenceClient(providerType, 0, rawRequestForErrors, "", err.Error()).Wrap(err)
	}
	defer resp.Body.Close()

	body, decErr := DecodeBody(resp)
	if decErr != nil {
		return nil, gwerrors.InferenceServer(providerType, rawRequestForErrors, "", decErr.Error()).Wrap(decErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError(providerType, resp.StatusCode, rawRequestForErrors, body)
	}
	return body, nil
}

// ParseToolCallArguments normalizes a raw tool-call argument string into
// {raw_arguments_string, parsed_arguments_value}. Parse failures leave
// ParsedArguments nil but retain RawArgumentsString verbatim (spec §4.5).
func ParseToolCallArguments(id, name, rawArgs string) ToolCallBlock {
	tc := ToolCallBlock{ID: id, Name: name, RawName: name, RawArgumentsString: rawArgs}
	var parsed any
	if err := json.Unmarshal([]byte(rawArgs), &parsed); err == nil {
		tc.ParsedArguments = parsed
	}
	return tc
}

// FoldCacheTokens folds provider-reported cache-read/write tokens into
// InputTokens, per spec §4.5's invariant.
func FoldCacheTokens(inputTokens, cacheRead, cacheWrite int) int {
	return inputTokens + cacheRead + cacheWrite
}

// SSEEvent is one parsed "data: ..." frame from an event-source stream.
type SSEEvent struct {
	Event string
	Data  string
}

// ScanSSE reads framed SSE events off r, calling fn for each. It stops at
// EOF or when fn returns false. Grounded on the teacher's streaming relay
// loop in internal/handlers/proxy.go, generalized into a standalone scanner
// reusable by every adapter instead of being embedded in the HTTP handler.
func ScanSSE(r io.Reader, fn func(SSEEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var cur SSEEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != "" {
				if !fn(cur) {
					return nil
				}
			}
			cur = SSEEvent{}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			if cur.Data != "" {
				cur.Data += "\n" + data
			} else {
				cur.Data = data
			}
		}
	}
	return scanner.Err()
}

// RemoveEmptyFields recursively strips nil/empty-string/empty-slice values
// from a decoded JSON tree before re-marshaling, grounded on the teacher's
// base.go field-stripping helper (used there to keep Anthropic<->OpenAI
// payloads minimal).
func RemoveEmptyFields(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, val := range t {
			cleaned := RemoveEmptyFields(val)
			if isEmptyValue(cleaned) {
				continue
			}
			out[k] = cleaned
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			out = append(out, RemoveEmptyFields(val))
		}
		return out
	default:
		return v
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// BuildRawRequestString renders a request body for error-attribution and
// persistence, sanitized through content.SanitizeRawRequest by the caller
// once the corresponding Message is known.
func BuildRawRequestString(body any) string {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(b)
}

// NormalizeStopReason maps a provider's native stop/finish-reason string
// into one of a small normalized set, grounded on the teacher's
// stop-reason-conversion helper in internal/providers/base.go.
func NormalizeStopReason(providerType, reason string) string {
	switch providerType {
	case "anthropic", "bedrock-anthropic":
		switch reason {
		case "end_turn":
			return "stop"
		case "max_tokens":
			return "length"
		case "tool_use":
			return "tool_calls"
		case "stop_sequence":
			return "stop"
		}
	default: // OpenAI-compatible family
		switch reason {
		case "stop":
			return "stop"
		case "length":
			return "length"
		case "tool_calls", "function_call":
			return "tool_calls"
		case "content_filter":
			return "content_filter"
		}
	}
	if reason == "" {
		return "stop"
	}
	return reason
}

// TextBlocksToString concatenates the text of Text/RawText blocks, used by
// adapters that need a flattened prompt body (e.g. embeddings input, DICL
// retrieval queries).
func TextBlocksToString(blocks []content.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == content.BlockText || b.Type == content.BlockRawText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// newJSONBodyReader adapts a marshaled JSON byte slice into the io.Reader
// http.NewRequestWithContext expects, shared by every adapter's doCall.
func newJSONBodyReader(raw []byte) io.Reader { return bytes.NewReader(raw) }

// jsonCompact normalizes whitespace before computing content hashes /
// comparisons, avoiding encoding/json.Compact boilerplate at every call site.
func jsonCompact(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
