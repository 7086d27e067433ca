package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mlaurent/sellsync/internal/application"
	"github.com/mlaurent/sellsync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON representation of a sync run.
type RunResponse struct {
	ID             string         `json:"id"`
	Trigger        string         `json:"trigger"`
	Status         string         `json:"status"`
	StartedAt      string         `json:"started_at"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	Error          string         `json:"error,omitempty"`
	RecordsSeen    int            `json:"records_seen"`
	RecordsCreated int            `json:"records_created"`
	RecordsUpdated int            `json:"records_updated"`
	RecordsFailed  int            `json:"records_failed"`
	Steps          []StepResponse `json:"steps"`
}

// StepResponse is the JSON representation of one pipeline step result.
type StepResponse struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status      string       `json:"status"`
	Time        string       `json:"time"`
	LastSuccess string       `json:"last_success,omitempty"`
	LastRun     *RunResponse `json:"last_run,omitempty"`
}

// toRunResponse converts a domain SyncRun to its JSON response representation.
func toRunResponse(run model.SyncRun) RunResponse {
	resp := RunResponse{
		ID:             run.ID,
		Trigger:        string(run.Trigger),
		Status:         string(run.Status),
		StartedAt:      run.StartedAt.UTC().Format(time.RFC3339),
		DurationMS:     run.Duration().Milliseconds(),
		Error:          run.Error,
		RecordsSeen:    run.Stats.RecordsSeen,
		RecordsCreated: run.Stats.RecordsCreated,
		RecordsUpdated: run.Stats.RecordsUpdated,
		RecordsFailed:  run.Stats.RecordsFailed,
		Steps:          []StepResponse{},
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	for _, step := range run.Steps {
		resp.Steps = append(resp.Steps, toStepResponse(step))
	}
	return resp
}

// toStepResponse converts a domain StepResult to its JSON representation.
func toStepResponse(step model.StepResult) StepResponse {
	resp := StepResponse{
		Name:       string(step.Name),
		Status:     string(step.Status),
		DurationMS: step.Duration.Milliseconds(),
		Error:      step.Error,
	}
	if !step.StartedAt.IsZero() {
		resp.StartedAt = step.StartedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toHealthResponse converts a HealthSummary to its JSON representation.
func toHealthResponse(summary *application.HealthSummary) HealthResponse {
	resp := HealthResponse{
		Status: summary.Status,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if !summary.LastSuccess.IsZero() {
		resp.LastSuccess = summary.LastSuccess.UTC().Format(time.RFC3339)
	}
	if summary.LastRun != nil {
		lastRun := toRunResponse(*summary.LastRun)
		resp.LastRun = &lastRun
	}
	return resp
}
