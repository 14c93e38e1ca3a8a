package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

func sampleReport() *models.RCAReport {
	return &models.RCAReport{
		ReportID:         "report-1",
		PipelineID:       "daily_sales_etl",
		TaskID:           "transform_orders",
		Category:         models.CategoryResourceExhaustion,
		Severity:         models.SeverityHigh,
		RootCauseSummary: "Executor ran out of heap",
		Confidence:       0.85,
		Recommendations: []models.Recommendation{
			{Action: "Increase executor memory", Priority: 1},
			{Action: "Repartition the orders table", Priority: 2},
		},
		ImmediateAction: "Retry with spark.executor.memory=8g",
		Model:           "anthropic/claude-sonnet-4-20250514",
	}
}

func TestNotifyReportPostsBlocks(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "#data-alerts", time.Second, nil)
	if err := notifier.NotifyReport(context.Background(), sampleReport()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if payload["channel"] != "#data-alerts" {
		t.Fatalf("channel not set: %v", payload["channel"])
	}
	text, _ := payload["text"].(string)
	if text == "" {
		t.Fatalf("fallback text missing")
	}
	blocks, _ := payload["blocks"].([]interface{})
	if len(blocks) < 4 {
		t.Fatalf("expected rendered blocks, got %d", len(blocks))
	}
}

func TestNotifyReportSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", time.Second, nil)
	if err := notifier.NotifyReport(context.Background(), sampleReport()); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	notifier := NewSlackNotifier("", "", time.Second, nil)
	if notifier.Enabled() {
		t.Fatalf("notifier without webhook should be disabled")
	}
	if err := notifier.NotifyReport(context.Background(), sampleReport()); err != nil {
		t.Fatalf("disabled notifier should not error: %v", err)
	}
}
