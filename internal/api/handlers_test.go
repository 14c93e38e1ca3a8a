package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pipewatch/rca-agent/internal/models"
)

type serviceStub struct {
	report     *models.RCAReport
	errStrings []string
	analyzeErr error

	resolveFound bool
	resolveErr   error

	gotEvent models.FailureEvent
}

func (s *serviceStub) Analyze(_ context.Context, event models.FailureEvent) (*models.RCAReport, []string, error) {
	s.gotEvent = event
	return s.report, s.errStrings, s.analyzeErr
}

func (s *serviceStub) Resolve(context.Context, string, string) (bool, error) {
	return s.resolveFound, s.resolveErr
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFailureWebhook(t *testing.T) {
	stub := &serviceStub{
		report: &models.RCAReport{
			ReportID:         "rep-1",
			PipelineID:       "daily_sales_etl",
			TaskID:           "transform_orders",
			Category:         models.CategoryResourceExhaustion,
			Severity:         models.SeverityHigh,
			RootCauseSummary: "OOM during join",
			Confidence:       0.85,
		},
		errStrings: []string{"collect: collector_failure: git: timeout"},
	}
	handler := NewHandler(nil, stub).Routes()

	rec := postJSON(t, handler, "/webhook/failure", `{
		"pipeline_id": "daily_sales_etl",
		"task_id": "transform_orders",
		"run_id": "scheduled__2026-08-20",
		"state": "failed",
		"error_message": "Task exited with return code 1",
		"attempt": 2
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Report struct {
			ReportID   string  `json:"report_id"`
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
		} `json:"report"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Report.ReportID != "rep-1" || resp.Report.Category != "resource_exhaustion" {
		t.Fatalf("unexpected report payload %+v", resp.Report)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("recorded errors should be surfaced, got %v", resp.Errors)
	}
	if stub.gotEvent.State != models.TaskStateFailed || stub.gotEvent.Attempt != 2 {
		t.Fatalf("event not mapped: %+v", stub.gotEvent)
	}
}

func TestFailureWebhookValidation(t *testing.T) {
	handler := NewHandler(nil, &serviceStub{}).Routes()

	rec := postJSON(t, handler, "/webhook/failure", `{"task_id": "t"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	rec = postJSON(t, handler, "/webhook/failure", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rec.Code)
	}
}

func TestFailureWebhookNoReport(t *testing.T) {
	stub := &serviceStub{
		errStrings: []string{"aggregate: missing_required_data: missing required data"},
		analyzeErr: fmt.Errorf("analysis failed"),
	}
	handler := NewHandler(nil, stub).Routes()

	rec := postJSON(t, handler, "/webhook/failure", `{"pipeline_id":"p","task_id":"t","run_id":"r"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Errors) != 1 {
		t.Fatalf("errors should be returned even without a report: %v/%v", resp.Errors, err)
	}
}

func TestResolutionEndpoint(t *testing.T) {
	handler := NewHandler(nil, &serviceStub{resolveFound: true}).Routes()
	rec := postJSON(t, handler, "/incidents/inc-1/resolution", `{"resolution":"restarted source db"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	handler = NewHandler(nil, &serviceStub{resolveFound: false}).Routes()
	rec = postJSON(t, handler, "/incidents/missing/resolution", `{"resolution":"n/a"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown incident, got %d", rec.Code)
	}

	handler = NewHandler(nil, &serviceStub{}).Routes()
	rec = postJSON(t, handler, "/incidents/inc-1/resolution", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty resolution, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(nil, &serviceStub{}).Routes()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should return 200, got %d", rec.Code)
	}
}
