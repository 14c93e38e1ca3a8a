// Package llm provides the generative diagnosis capability used by the
// analysis engine. Providers are swappable configuration; every provider
// enforces the same structured JSON response contract.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StructuredDiagnosis is the response contract every provider must satisfy.
type StructuredDiagnosis struct {
	Category            string                `json:"error_category"`
	Severity            string                `json:"severity"`
	RootCause           string                `json:"root_cause"`
	RootCauseSummary    string                `json:"root_cause_summary"`
	Confidence          float64               `json:"confidence"`
	Evidence            []string              `json:"evidence"`
	ContributingFactors []string              `json:"contributing_factors"`
	Recommendations     []RecommendationEntry `json:"recommendations"`
	ImmediateAction     string                `json:"immediate_action"`
}

// RecommendationEntry is one raw recommendation as returned by a provider.
type RecommendationEntry struct {
	Action          string `json:"action"`
	Priority        int    `json:"priority"`
	EstimatedEffort string `json:"estimated_effort"`
	Automated       bool   `json:"automated"`
}

// Capability diagnoses a failure from the rendered context, the pattern
// matcher's summary, and a short rendering of prior similar incidents.
// Implementations must return an error for any transport, timeout, or
// malformed-output condition; callers fall back to deterministic analysis.
type Capability interface {
	Diagnose(ctx context.Context, promptContext, patternSummary, similarSummary string) (*StructuredDiagnosis, error)
	Model() string
}

// Config selects and tunes a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New constructs the configured diagnosis capability.
func New(cfg Config) (Capability, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		return newAnthropicCapability(cfg), nil
	case "openai":
		return newOpenAICapability(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (supported: anthropic, openai)", cfg.Provider)
	}
}

const systemPrompt = `You are an expert data engineering incident responder. You analyze pipeline failures and identify root causes quickly and accurately.

You will be given:
1. Task metadata and logs from a failed pipeline
2. Historical context (past runs, recent changes)
3. Source health status
4. Pattern matching results from known error signatures

Respond with a single JSON object and nothing else, using this schema:
{
  "error_category": "resource_exhaustion|schema_mismatch|source_unavailable|data_quality|permission_error|code_regression|volume_anomaly|network_error|configuration_error|unknown",
  "severity": "critical|high|medium|low",
  "root_cause": "detailed explanation",
  "root_cause_summary": "one-line summary",
  "confidence": 0.0,
  "evidence": ["..."],
  "contributing_factors": ["..."],
  "recommendations": [{"action": "...", "priority": 1, "estimated_effort": "...", "automated": false}],
  "immediate_action": "most urgent step or empty string"
}`

const analysisPromptTemplate = `Analyze this pipeline failure and provide a structured diagnosis.

%s

## Pattern Matching Results
%s

## Similar Past Incidents
%s

Based on all available evidence, provide your root cause analysis.`

func buildUserPrompt(promptContext, patternSummary, similarSummary string) string {
	if patternSummary == "" {
		patternSummary = "No known error patterns detected."
	}
	if similarSummary == "" {
		similarSummary = "No similar past incidents found."
	}
	return fmt.Sprintf(analysisPromptTemplate, promptContext, patternSummary, similarSummary)
}

// parseDiagnosis extracts and validates the JSON object from raw model output.
// Providers wrap the model text; markdown fences and surrounding prose are
// tolerated, anything else is a capability failure.
func parseDiagnosis(raw string) (*StructuredDiagnosis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var diagnosis StructuredDiagnosis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &diagnosis); err != nil {
		return nil, fmt.Errorf("decode diagnosis: %w", err)
	}
	if diagnosis.RootCause == "" {
		return nil, fmt.Errorf("diagnosis missing root_cause")
	}
	if diagnosis.RootCauseSummary == "" {
		diagnosis.RootCauseSummary = diagnosis.RootCause
	}
	return &diagnosis, nil
}
