package models

import "testing"

func TestReportSummary(t *testing.T) {
	report := &RCAReport{
		PipelineID:       "daily_sales_etl",
		TaskID:           "transform_orders",
		Severity:         SeverityHigh,
		RootCauseSummary: "executor ran out of memory during the orders join",
		Confidence:       0.85,
	}

	want := "[HIGH] daily_sales_etl/transform_orders: executor ran out of memory during the orders join (Confidence: 85%)"
	if got := report.Summary(); got != want {
		t.Fatalf("unexpected summary:\n got %q\nwant %q", got, want)
	}
}
