package models

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies the root cause of a pipeline failure.
type ErrorCategory string

const (
	CategoryResourceExhaustion ErrorCategory = "resource_exhaustion"
	CategorySchemaMismatch     ErrorCategory = "schema_mismatch"
	CategorySourceUnavailable  ErrorCategory = "source_unavailable"
	CategoryDataQuality        ErrorCategory = "data_quality"
	CategoryPermissionError    ErrorCategory = "permission_error"
	CategoryCodeRegression     ErrorCategory = "code_regression"
	CategoryVolumeAnomaly      ErrorCategory = "volume_anomaly"
	CategoryNetworkError       ErrorCategory = "network_error"
	CategoryConfigurationError ErrorCategory = "configuration_error"
	CategoryUnknown            ErrorCategory = "unknown"
)

// ParseErrorCategory maps a category string onto a known category, defaulting
// to unknown.
func ParseErrorCategory(value string) ErrorCategory {
	switch ErrorCategory(strings.ToLower(value)) {
	case CategoryResourceExhaustion, CategorySchemaMismatch, CategorySourceUnavailable,
		CategoryDataQuality, CategoryPermissionError, CategoryCodeRegression,
		CategoryVolumeAnomaly, CategoryNetworkError, CategoryConfigurationError:
		return ErrorCategory(strings.ToLower(value))
	default:
		return CategoryUnknown
	}
}

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities for sorting: critical=0 .. low=3.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// ParseSeverity maps a severity string onto a known level, defaulting to medium.
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToLower(value)) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(strings.ToLower(value))
	default:
		return SeverityMedium
	}
}

// Recommendation is one actionable remediation step.
type Recommendation struct {
	Action          string
	Priority        int // 1 (highest) to 5
	EstimatedEffort string
	Automated       bool
}

// SimilarIncident references a historical diagnosis judged close to the
// current failure.
type SimilarIncident struct {
	IncidentID      string
	Date            time.Time
	PipelineID      string
	TaskID          string
	Category        ErrorCategory
	RootCause       string
	Resolution      string
	SimilarityScore float64 // [0, 1]
}

// RCAReport is the structured diagnosis produced by one analysis run.
// Immutable after creation.
type RCAReport struct {
	ReportID    string
	GeneratedAt time.Time

	PipelineID  string
	TaskID      string
	RunID       string
	FailureTime time.Time

	Category         ErrorCategory
	Severity         Severity
	RootCause        string
	RootCauseSummary string
	Confidence       float64 // [0, 1]

	Evidence    []string
	KeyLogLines []string

	ContributingFactors []string
	RecentChanges       []string

	Recommendations []Recommendation
	ImmediateAction string

	SimilarIncidents []SimilarIncident
	IsRecurring      bool
	RecurrenceCount  int

	AnalysisDurationMs int64
	Model              string
	CollectorsUsed     []string
}

// Summary renders the report as a one-line notification string.
func (r *RCAReport) Summary() string {
	return fmt.Sprintf("[%s] %s/%s: %s (Confidence: %.0f%%)",
		strings.ToUpper(string(r.Severity)), r.PipelineID, r.TaskID, r.RootCauseSummary, r.Confidence*100)
}
