package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/inference"
)

type fakeFeedbackWriter struct {
	recorded []inference.FeedbackInput
}

func (f *fakeFeedbackWriter) RecordFeedback(ctx context.Context, feedbackID uuid.UUID, in inference.FeedbackInput) error {
	f.recorded = append(f.recorded, in)
	return nil
}

func TestFeedbackHandlerRecordsFeedback(t *testing.T) {
	writer := &fakeFeedbackWriter{}
	h := NewFeedbackHandler(newTestDispatcher(t, "echo"), writer)

	targetID, err := inference.NewEpisodeID()
	require.NoError(t, err)

	body := feedbackRequest{
		TargetID:   targetID.String(),
		MetricName: "thumbs_up",
		Value:      true,
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, writer.recorded, 1)
	assert.Equal(t, "thumbs_up", writer.recorded[0].MetricName)

	var resp feedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.FeedbackID)
}

func TestFeedbackHandlerRejectsInvalidTargetID(t *testing.T) {
	writer := &fakeFeedbackWriter{}
	h := NewFeedbackHandler(newTestDispatcher(t, "echo"), writer)

	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader([]byte(`{"target_id":"not-a-uuid","metric_name":"x"}`)))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Empty(t, writer.recorded)
}
