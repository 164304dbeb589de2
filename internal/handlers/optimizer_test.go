package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/optimizer"
)

func TestOptimizerHandlerLaunchesAndPollsJob(t *testing.T) {
	t.Setenv("DUMMY_API_KEY", "k")

	h := NewOptimizerHandler()

	launchBody := launchJobRequest{
		ProviderType: "dummy",
		ModelName:    "dummy-base-model",
		Train: optimizer.TrainingSet{
			Method:     optimizer.MethodSupervised,
			Supervised: []optimizer.SFTRow{{}},
		},
	}
	raw, err := json.Marshal(launchBody)
	require.NoError(t, err)

	launchReq := httptest.NewRequest(http.MethodPost, "/v1/optimizer/jobs", bytes.NewReader(raw))
	launchRec := httptest.NewRecorder()
	h.ServeHTTP(launchRec, launchReq)

	require.Equal(t, http.StatusAccepted, launchRec.Code)
	var launchResp jobResponse
	require.NoError(t, json.Unmarshal(launchRec.Body.Bytes(), &launchResp))
	assert.Equal(t, string(optimizer.StatusPending), launchResp.Kind)

	pollReq := httptest.NewRequest(http.MethodGet, "/v1/optimizer/jobs/"+launchResp.JobID.String(), nil)
	pollRec := httptest.NewRecorder()
	h.ServeHTTP(pollRec, pollReq)

	require.Equal(t, http.StatusOK, pollRec.Code)
	var pollResp jobResponse
	require.NoError(t, json.Unmarshal(pollRec.Body.Bytes(), &pollResp))
	assert.Equal(t, launchResp.JobID, pollResp.JobID)
}

func TestOptimizerHandlerPollUnknownJobReturnsNotFound(t *testing.T) {
	h := NewOptimizerHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/optimizer/jobs/0196e1b0-0000-7000-8000-000000000000", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptimizerHandlerRejectsUnknownProviderType(t *testing.T) {
	h := NewOptimizerHandler()

	body := launchJobRequest{ProviderType: "not-a-real-provider", ModelName: "x"}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/optimizer/jobs", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusAccepted, rec.Code)
}
