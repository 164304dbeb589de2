// Package handlers implements the gateway's HTTP surface: inference,
// feedback, and optimizer job submission.
//
// Grounded on the teacher's internal/handlers/proxy.go request sequence
// (decode -> validate -> call a domain object -> encode), generalized from
// "decode one Anthropic request, call one provider, re-encode the response"
// into "decode an inference request, call internal/inference.Dispatcher,
// stream or encode the result" — the domain object changes, the shape of a
// Go http.Handler parsing JSON in and writing JSON (or SSE) out does not.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/content"
	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/middleware"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/tokencount"
	"github.com/relaygate/relaygate/internal/tool"
)

// InferenceHandler serves POST /inference, the gateway's primary operation.
type InferenceHandler struct {
	Dispatcher *inference.Dispatcher
	Logger     *slog.Logger
}

func NewInferenceHandler(d *inference.Dispatcher, logger *slog.Logger) *InferenceHandler {
	return &InferenceHandler{Dispatcher: d, Logger: logger}
}

// inferenceRequest is the wire shape of a POST /inference body.
type inferenceRequest struct {
	FunctionName      string            `json:"function_name"`
	EpisodeID         string            `json:"episode_id,omitempty"`
	Input             content.Message   `json:"input"`
	VariantName       string            `json:"variant_name,omitempty"`
	Stream            bool              `json:"stream,omitempty"`
	ToolChoice        *toolChoiceDTO    `json:"tool_choice,omitempty"`
	AdditionalTools   []tool.Descriptor `json:"additional_tools,omitempty"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls,omitempty"`
	OutputSchema      json.RawMessage   `json:"output_schema,omitempty"`
	Credentials       map[string]string `json:"credentials,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	SystemArgs        map[string]any    `json:"system_args,omitempty"`
}

type toolChoiceDTO struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

type inferenceResponse struct {
	InferenceID  uuid.UUID       `json:"inference_id"`
	EpisodeID    uuid.UUID       `json:"episode_id"`
	VariantName  string          `json:"variant_name"`
	ProviderName string          `json:"provider_name"`
	Content      []content.Block `json:"content"`
	Usage        providers.Usage `json:"usage"`
}

func (h *InferenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.InvalidRequest("could not decode request body: "+err.Error()))
		return
	}

	in, err := toInferInput(req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx)
	logger.Debug("inference request", "function_name", req.FunctionName, "estimated_input_tokens", tokencount.EstimateMessage(req.Input))

	if req.Stream {
		h.serveStream(w, r, in, logger)
		return
	}

	result, err := h.Dispatcher.Infer(ctx, in)
	if err != nil {
		logger.Error("inference failed", "function_name", req.FunctionName, "error", err)
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inferenceResponse{
		InferenceID:  result.InferenceID,
		EpisodeID:    result.EpisodeID,
		VariantName:  result.VariantName,
		ProviderName: result.ProviderName,
		Content:      result.Response.Content,
		Usage:        result.Response.Usage,
	})
}

// serveStream relays a StreamResult as Server-Sent Events, one event per
// provider chunk, closing with a final event carrying usage once the
// dispatcher's channel closes.
func (h *InferenceHandler) serveStream(w http.ResponseWriter, r *http.Request, in inference.InferInput, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeGatewayError(w, gwerrors.InferenceServer("", "", "", "streaming not supported by this response writer"))
		return
	}

	result, err := h.Dispatcher.InferStream(r.Context(), in)
	if err != nil {
		logger.Error("inference stream failed", "function_name", in.FunctionName, "error", err)
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var usage providers.Usage
	for chunk := range result.Stream {
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if err := writeSSE(w, flusher, streamEvent{
			InferenceID:  result.InferenceID,
			EpisodeID:    result.EpisodeID,
			VariantName:  result.VariantName,
			ProviderName: result.ProviderName,
			ContentDelta: chunk.ContentDelta,
		}); err != nil {
			logger.Warn("dropped client mid-stream", "error", err)
			return
		}
	}

	_ = writeSSE(w, flusher, streamEvent{
		InferenceID:  result.InferenceID,
		EpisodeID:    result.EpisodeID,
		VariantName:  result.VariantName,
		ProviderName: result.ProviderName,
		Usage:        &usage,
	})
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gwerrors.GatewayError
	status := http.StatusInternalServerError
	kind := "internal_error"
	if errors.As(err, &ge) {
		status = ge.HTTPStatus()
		kind = string(ge.Kind)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func toInferInput(req inferenceRequest) (inference.InferInput, error) {
	var episodeID uuid.UUID
	if req.EpisodeID != "" {
		parsed, err := uuid.Parse(req.EpisodeID)
		if err != nil {
			return inference.InferInput{}, gwerrors.InvalidRequest("episode_id is not a valid uuid: " + err.Error())
		}
		episodeID = parsed
	}

	var choice tool.Choice
	if req.ToolChoice != nil {
		choice = tool.Choice{Mode: tool.ChoiceMode(req.ToolChoice.Mode), Name: req.ToolChoice.Name}
	}

	return inference.InferInput{
		FunctionName:        req.FunctionName,
		EpisodeID:           episodeID,
		Input:               req.Input,
		VariantName:         req.VariantName,
		DynamicTools:        req.AdditionalTools,
		ToolChoice:          choice,
		ParallelToolsOK:     req.ParallelToolCalls,
		DynamicOutputSchema: req.OutputSchema,
		DynamicCredentials:  req.Credentials,
		Tags:                req.Tags,
		SystemArgs:          req.SystemArgs,
	}, nil
}

// streamEvent is one SSE `data:` payload.
type streamEvent struct {
	InferenceID  uuid.UUID        `json:"inference_id,omitempty"`
	EpisodeID    uuid.UUID        `json:"episode_id,omitempty"`
	VariantName  string           `json:"variant_name,omitempty"`
	ProviderName string           `json:"provider_name,omitempty"`
	ContentDelta []content.Block  `json:"content_delta,omitempty"`
	Usage        *providers.Usage `json:"usage,omitempty"`
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event streamEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
