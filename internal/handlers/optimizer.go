package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
	"github.com/relaygate/relaygate/internal/optimizer"
	"github.com/relaygate/relaygate/internal/providers"
)

// optimizerJob is the registry entry tying a submitted job id back to the
// provider handle and credentials Poll needs for its next round trip.
type optimizerJob struct {
	handle  optimizer.JobHandle
	adapter providers.Adapter
	creds   providers.Credentials
	status  *optimizer.Status
}

// OptimizerHandler serves POST /v1/optimizer/jobs and
// GET /v1/optimizer/jobs/{id}. The job registry is in-memory: a restart
// loses in-flight job bookkeeping, acceptable since handle.JobID/JobAPIURL
// are themselves recoverable from the provider and a future revision can
// persist them through Store the same way inferences are recorded.
type OptimizerHandler struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*optimizerJob
}

func NewOptimizerHandler() *OptimizerHandler {
	return &OptimizerHandler{jobs: make(map[uuid.UUID]*optimizerJob)}
}

type launchJobRequest struct {
	ProviderType    string                 `json:"provider_type"`
	ModelName       string                 `json:"model_name"`
	APIKeyEnvVar    string                 `json:"api_key_env_var,omitempty"`
	Train           optimizer.TrainingSet  `json:"train"`
	Validation      *optimizer.TrainingSet `json:"validation,omitempty"`
	Hyperparameters map[string]any         `json:"hyperparameters,omitempty"`
}

type jobResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Kind    string    `json:"status"`
	Message string    `json:"message,omitempty"`
}

func (h *OptimizerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/optimizer/jobs":
		h.launch(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/optimizer/jobs/"):
		h.poll(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *OptimizerHandler) launch(w http.ResponseWriter, r *http.Request) {
	var req launchJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.InvalidRequest("could not decode request body: "+err.Error()))
		return
	}

	adapter, err := providers.ResolveShorthand(req.ProviderType, req.ModelName)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	envVar := req.APIKeyEnvVar
	if envVar == "" {
		envVar = strings.ToUpper(req.ProviderType) + "_API_KEY"
	}
	creds := providers.Credentials{APIKey: os.Getenv(envVar)}

	handle, err := optimizer.Launch(r.Context(), req.ProviderType, adapter, creds, req.ModelName, envVar, req.Train, req.Validation, req.Hyperparameters)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	jobID := uuid.New()
	h.mu.Lock()
	h.jobs[jobID] = &optimizerJob{handle: *handle, adapter: adapter, creds: creds}
	h.mu.Unlock()

	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, Kind: string(optimizer.StatusPending)})
}

func (h *OptimizerHandler) poll(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/optimizer/jobs/")
	jobID, err := uuid.Parse(idStr)
	if err != nil {
		writeGatewayError(w, gwerrors.InvalidRequest("invalid job id: "+err.Error()))
		return
	}

	h.mu.Lock()
	job, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	status, err := optimizer.Poll(r.Context(), job.adapter, job.creds, job.handle)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	h.mu.Lock()
	job.status = status
	h.mu.Unlock()

	resp := jobResponse{JobID: jobID, Kind: string(status.Kind), Message: status.Message}
	if status.Kind == optimizer.StatusCompleted {
		resp.Message = fmt.Sprintf("fine_tuned_model=%s", status.FineTunedModelName)
	}
	writeJSON(w, http.StatusOK, resp)
}
