package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/inference"
)

// FeedbackHandler serves POST /feedback, scoring a prior inference or
// episode against a named metric.
type FeedbackHandler struct {
	Dispatcher *inference.Dispatcher
	Writer     inference.FeedbackWriter
}

func NewFeedbackHandler(d *inference.Dispatcher, writer inference.FeedbackWriter) *FeedbackHandler {
	return &FeedbackHandler{Dispatcher: d, Writer: writer}
}

type feedbackRequest struct {
	TargetID   string            `json:"target_id"`
	MetricName string            `json:"metric_name"`
	Value      any               `json:"value"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type feedbackResponse struct {
	FeedbackID uuid.UUID `json:"feedback_id"`
}

func (h *FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.InvalidRequest("could not decode request body: "+err.Error()))
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		writeGatewayError(w, gwerrors.InvalidRequest("target_id is not a valid uuid: "+err.Error()))
		return
	}

	feedbackID, err := h.Dispatcher.Feedback(r.Context(), h.Writer, inference.FeedbackInput{
		TargetID:   targetID,
		MetricName: req.MetricName,
		Value:      req.Value,
		Tags:       req.Tags,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feedbackResponse{FeedbackID: feedbackID})
}
