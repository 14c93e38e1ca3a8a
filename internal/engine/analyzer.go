package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/rca-agent/internal/llm"
	"github.com/pipewatch/rca-agent/internal/models"
	"github.com/pipewatch/rca-agent/internal/signatures"
)

const (
	maxPatternSummaryEntries = 5
	maxSimilarSummaryEntries = 3
	maxFallbackEvidence      = 3

	// Fallback confidence is fixed so downstream consumers can tell a
	// deterministic diagnosis from a generative one.
	fallbackMatchedConfidence = 0.6
	fallbackUnknownConfidence = 0.2

	fallbackModel = "pattern-fallback"
)

// Analyzer turns an evidence bundle into a structured diagnosis. The primary
// path asks the configured capability; any capability failure degrades to the
// deterministic signature-based fallback so a report is always produced.
type Analyzer struct {
	matcher    *signatures.Matcher
	capability llm.Capability
	logger     *slog.Logger
}

// NewAnalyzer constructs an analyzer. A nil capability runs the analyzer in
// deterministic-only mode.
func NewAnalyzer(matcher *signatures.Matcher, capability llm.Capability, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{matcher: matcher, capability: capability, logger: logger}
}

// Analyze produces a report for the given context. The returned error, when
// non-nil, records that the diagnosis capability failed and the deterministic
// fallback was used; the report itself is always valid.
func (a *Analyzer) Analyze(ctx context.Context, rcaCtx *models.RCAContext, similar []models.SimilarIncident) (*models.RCAReport, error) {
	start := time.Now()
	logText := rcaCtx.Logs.Stdout

	matches := a.matcher.Match(logText)
	patternSummary := formatPatternSummary(matches)
	similarSummary := formatSimilarSummary(similar)

	var diagnosis *llm.StructuredDiagnosis
	var capErr error
	model := fallbackModel

	if a.capability != nil {
		diagnosis, capErr = a.capability.Diagnose(ctx, rcaCtx.PromptContext(), patternSummary, similarSummary)
		if capErr != nil {
			a.logger.Warn("diagnosis capability failed, using pattern fallback",
				slog.String("pipeline", rcaCtx.Task.PipelineID),
				slog.Any("error", capErr),
			)
			diagnosis = nil
		} else {
			model = a.capability.Model()
		}
	}
	if diagnosis == nil {
		diagnosis = a.fallback(logText)
	}

	report := a.buildReport(rcaCtx, diagnosis, similar, logText)
	report.Model = model
	report.AnalysisDurationMs = time.Since(start).Milliseconds()

	a.logger.Info("analysis complete",
		slog.String("report_id", report.ReportID),
		slog.String("pipeline", report.PipelineID),
		slog.String("task", report.TaskID),
		slog.String("category", string(report.Category)),
		slog.String("severity", string(report.Severity)),
		slog.Float64("confidence", report.Confidence),
		slog.String("model", report.Model),
		slog.Int64("duration_ms", report.AnalysisDurationMs),
	)

	return report, capErr
}

// fallback classifies the failure from the signature catalog alone. A primary
// match drives the diagnosis; no match yields a low-confidence unknown report
// that still carries a usable next step.
func (a *Analyzer) fallback(logText string) *llm.StructuredDiagnosis {
	primary := a.matcher.PrimaryMatch(logText)
	if primary == nil {
		return &llm.StructuredDiagnosis{
			Category:         string(models.CategoryUnknown),
			Severity:         string(models.SeverityMedium),
			RootCause:        "Unable to determine root cause from available information",
			RootCauseSummary: "Unknown error - manual investigation required",
			Confidence:       fallbackUnknownConfidence,
			Recommendations: []llm.RecommendationEntry{
				{Action: "Review full logs manually", Priority: 1},
			},
		}
	}

	evidence := make([]string, 0, maxFallbackEvidence)
	for i, match := range primary.Matches {
		if i == maxFallbackEvidence {
			break
		}
		evidence = append(evidence, "Pattern match: "+match)
	}

	return &llm.StructuredDiagnosis{
		Category:         string(primary.Signature.Category),
		Severity:         string(primary.Signature.Severity),
		RootCause:        primary.Signature.Description,
		RootCauseSummary: primary.Signature.Description,
		Confidence:       fallbackMatchedConfidence,
		Evidence:         evidence,
		Recommendations: []llm.RecommendationEntry{
			{Action: primary.Signature.Recommendation, Priority: 1},
		},
	}
}

func (a *Analyzer) buildReport(rcaCtx *models.RCAContext, diagnosis *llm.StructuredDiagnosis, similar []models.SimilarIncident, logText string) *models.RCAReport {
	report := &models.RCAReport{
		ReportID:    uuid.NewString(),
		GeneratedAt: time.Now().UTC(),

		PipelineID:  rcaCtx.Task.PipelineID,
		TaskID:      rcaCtx.Task.TaskID,
		RunID:       rcaCtx.Task.RunID,
		FailureTime: rcaCtx.FailureTime,

		Category:         models.ParseErrorCategory(diagnosis.Category),
		Severity:         models.ParseSeverity(diagnosis.Severity),
		RootCause:        diagnosis.RootCause,
		RootCauseSummary: diagnosis.RootCauseSummary,
		Confidence:       clamp01(diagnosis.Confidence),

		Evidence:            diagnosis.Evidence,
		KeyLogLines:         a.matcher.ExtractKeyLines(logText, signatures.DefaultMaxKeyLines),
		ContributingFactors: diagnosis.ContributingFactors,
		ImmediateAction:     diagnosis.ImmediateAction,

		SimilarIncidents: similar,
		CollectorsUsed:   collectorsUsed(rcaCtx),
	}

	for _, rec := range diagnosis.Recommendations {
		priority := rec.Priority
		if priority < 1 {
			priority = 3
		}
		if priority > 5 {
			priority = 5
		}
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Action:          rec.Action,
			Priority:        priority,
			EstimatedEffort: rec.EstimatedEffort,
			Automated:       rec.Automated,
		})
	}

	if rcaCtx.VCS != nil {
		for i, commit := range rcaCtx.VCS.RecentCommits {
			if i == maxSimilarSummaryEntries {
				break
			}
			report.RecentChanges = append(report.RecentChanges,
				fmt.Sprintf("%s: %s (%s)", commit.ShortSHA, commit.Message, commit.Author))
		}
	}

	report.RecurrenceCount = len(similar)
	report.IsRecurring = len(similar) > 0

	return report
}

// collectorsUsed lists the evidence sources that actually contributed.
func collectorsUsed(rcaCtx *models.RCAContext) []string {
	used := []string{"scheduler"}
	if rcaCtx.VCS != nil {
		used = append(used, "git")
	}
	if len(rcaCtx.Sources) > 0 {
		used = append(used, "source_health")
	}
	if rcaCtx.Metrics != nil {
		used = append(used, "metrics")
	}
	return used
}

// formatPatternSummary renders the top signature matches for the diagnosis
// prompt. At most maxPatternSummaryEntries signatures, three matched
// substrings each.
func formatPatternSummary(matches []signatures.MatchResult) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	for i, match := range matches {
		if i == maxPatternSummaryEntries {
			break
		}
		samples := match.Matches
		if len(samples) > 3 {
			samples = samples[:3]
		}
		fmt.Fprintf(&b, "- **%s** (%s, %s): %s\n", match.Signature.Name,
			match.Signature.Category, match.Signature.Severity, match.Signature.Description)
		fmt.Fprintf(&b, "  Matched: %s\n", strings.Join(samples, ", "))
		fmt.Fprintf(&b, "  Recommendation: %s\n", match.Signature.Recommendation)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatSimilarSummary renders prior incidents for the diagnosis prompt.
func formatSimilarSummary(similar []models.SimilarIncident) string {
	if len(similar) == 0 {
		return ""
	}

	var b strings.Builder
	for i, incident := range similar {
		if i == maxSimilarSummaryEntries {
			break
		}
		date := "unknown date"
		if !incident.Date.IsZero() {
			date = incident.Date.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "- [%s] %s/%s (%s, similarity %.2f)\n", date,
			incident.PipelineID, incident.TaskID, incident.Category, incident.SimilarityScore)
		fmt.Fprintf(&b, "  Root cause: %s\n", incident.RootCause)
		if incident.Resolution != "" {
			fmt.Fprintf(&b, "  Resolution: %s\n", incident.Resolution)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
