package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// AnalysisService is the application surface the handlers depend on.
type AnalysisService interface {
	Analyze(ctx context.Context, event models.FailureEvent) (*models.RCAReport, []string, error)
	Resolve(ctx context.Context, incidentID, resolution string) (bool, error)
}

// Handler routes HTTP requests to the analysis service.
type Handler struct {
	logger  *slog.Logger
	service AnalysisService
}

// NewHandler constructs the HTTP handler set.
func NewHandler(logger *slog.Logger, service AnalysisService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Routes returns the configured mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/failure", h.handleFailure)
	mux.HandleFunc("POST /incidents/{id}/resolution", h.handleResolution)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

// failureRequest is the webhook payload sent by the scheduler's failure
// callback.
type failureRequest struct {
	PipelineID    string `json:"pipeline_id"`
	TaskID        string `json:"task_id"`
	RunID         string `json:"run_id"`
	ExecutionDate string `json:"execution_date"`
	State         string `json:"state"`
	ErrorMessage  string `json:"error_message"`
	Attempt       int    `json:"attempt"`
}

type analysisResponse struct {
	Report *reportView `json:"report,omitempty"`
	Errors []string    `json:"errors,omitempty"`
}

// reportView is the JSON rendering of a diagnosis.
type reportView struct {
	ReportID    string    `json:"report_id"`
	GeneratedAt time.Time `json:"generated_at"`

	PipelineID  string    `json:"pipeline_id"`
	TaskID      string    `json:"task_id"`
	RunID       string    `json:"run_id"`
	FailureTime time.Time `json:"failure_time"`

	Category         string  `json:"category"`
	Severity         string  `json:"severity"`
	RootCause        string  `json:"root_cause"`
	RootCauseSummary string  `json:"root_cause_summary"`
	Confidence       float64 `json:"confidence"`

	Evidence            []string `json:"evidence,omitempty"`
	KeyLogLines         []string `json:"key_log_lines,omitempty"`
	ContributingFactors []string `json:"contributing_factors,omitempty"`
	RecentChanges       []string `json:"recent_changes,omitempty"`

	Recommendations []recommendationView `json:"recommendations,omitempty"`
	ImmediateAction string               `json:"immediate_action,omitempty"`

	SimilarIncidents []similarIncidentView `json:"similar_incidents,omitempty"`
	IsRecurring      bool                  `json:"is_recurring"`
	RecurrenceCount  int                   `json:"recurrence_count"`

	AnalysisDurationMs int64    `json:"analysis_duration_ms"`
	Model              string   `json:"model"`
	CollectorsUsed     []string `json:"collectors_used"`
}

type recommendationView struct {
	Action          string `json:"action"`
	Priority        int    `json:"priority"`
	EstimatedEffort string `json:"estimated_effort,omitempty"`
	Automated       bool   `json:"automated"`
}

type similarIncidentView struct {
	IncidentID      string    `json:"incident_id"`
	Date            time.Time `json:"date"`
	PipelineID      string    `json:"pipeline_id"`
	TaskID          string    `json:"task_id"`
	Category        string    `json:"category"`
	RootCause       string    `json:"root_cause"`
	Resolution      string    `json:"resolution,omitempty"`
	SimilarityScore float64   `json:"similarity_score"`
}

func (h *Handler) handleFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.PipelineID == "" || req.TaskID == "" || req.RunID == "" {
		writeError(w, http.StatusBadRequest, "pipeline_id, task_id, and run_id are required")
		return
	}

	event := models.FailureEvent{
		PipelineID:   req.PipelineID,
		TaskID:       req.TaskID,
		RunID:        req.RunID,
		State:        models.ParseTaskState(req.State),
		ErrorMessage: req.ErrorMessage,
		Attempt:      req.Attempt,
		DetectedAt:   time.Now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, req.ExecutionDate); err == nil {
		event.ExecutionDate = ts
	}

	h.logger.Info("failure webhook received",
		slog.String("pipeline", event.PipelineID),
		slog.String("task", event.TaskID),
		slog.String("run", event.RunID),
	)

	report, errStrings, err := h.service.Analyze(r.Context(), event)
	if err != nil && report == nil {
		h.logger.Error("analysis failed", slog.Any("error", err))
		writeJSON(w, http.StatusUnprocessableEntity, analysisResponse{Errors: errStrings})
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{Report: toReportView(report), Errors: errStrings})
}

type resolutionRequest struct {
	Resolution string `json:"resolution"`
}

func (h *Handler) handleResolution(w http.ResponseWriter, r *http.Request) {
	incidentID := r.PathValue("id")

	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Resolution == "" {
		writeError(w, http.StatusBadRequest, "resolution is required")
		return
	}

	found, err := h.service.Resolve(r.Context(), incidentID, req.Resolution)
	if err != nil {
		h.logger.Error("resolution update failed", slog.String("incident", incidentID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "resolution update failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"incident_id": incidentID, "status": "resolved"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toReportView(report *models.RCAReport) *reportView {
	if report == nil {
		return nil
	}

	view := &reportView{
		ReportID:            report.ReportID,
		GeneratedAt:         report.GeneratedAt,
		PipelineID:          report.PipelineID,
		TaskID:              report.TaskID,
		RunID:               report.RunID,
		FailureTime:         report.FailureTime,
		Category:            string(report.Category),
		Severity:            string(report.Severity),
		RootCause:           report.RootCause,
		RootCauseSummary:    report.RootCauseSummary,
		Confidence:          report.Confidence,
		Evidence:            report.Evidence,
		KeyLogLines:         report.KeyLogLines,
		ContributingFactors: report.ContributingFactors,
		RecentChanges:       report.RecentChanges,
		ImmediateAction:     report.ImmediateAction,
		IsRecurring:         report.IsRecurring,
		RecurrenceCount:     report.RecurrenceCount,
		AnalysisDurationMs:  report.AnalysisDurationMs,
		Model:               report.Model,
		CollectorsUsed:      report.CollectorsUsed,
	}
	for _, rec := range report.Recommendations {
		view.Recommendations = append(view.Recommendations, recommendationView{
			Action:          rec.Action,
			Priority:        rec.Priority,
			EstimatedEffort: rec.EstimatedEffort,
			Automated:       rec.Automated,
		})
	}
	for _, incident := range report.SimilarIncidents {
		view.SimilarIncidents = append(view.SimilarIncidents, similarIncidentView{
			IncidentID:      incident.IncidentID,
			Date:            incident.Date,
			PipelineID:      incident.PipelineID,
			TaskID:          incident.TaskID,
			Category:        string(incident.Category),
			RootCause:       incident.RootCause,
			Resolution:      incident.Resolution,
			SimilarityScore: incident.SimilarityScore,
		})
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
