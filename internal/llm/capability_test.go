package llm

import (
	"strings"
	"testing"
)

func TestParseDiagnosisPlainJSON(t *testing.T) {
	raw := `{"error_category":"resource_exhaustion","severity":"high","root_cause":"executor ran out of heap","root_cause_summary":"OOM during join","confidence":0.85,"evidence":["java.lang.OutOfMemoryError"],"recommendations":[{"action":"Increase executor memory","priority":1}]}`

	diagnosis, err := parseDiagnosis(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diagnosis.Category != "resource_exhaustion" {
		t.Fatalf("unexpected category %q", diagnosis.Category)
	}
	if diagnosis.Confidence != 0.85 {
		t.Fatalf("unexpected confidence %f", diagnosis.Confidence)
	}
	if len(diagnosis.Recommendations) != 1 || diagnosis.Recommendations[0].Priority != 1 {
		t.Fatalf("unexpected recommendations %+v", diagnosis.Recommendations)
	}
}

func TestParseDiagnosisFencedJSON(t *testing.T) {
	raw := "Here is the diagnosis:\n```json\n{\"error_category\":\"unknown\",\"severity\":\"medium\",\"root_cause\":\"unclear\",\"confidence\":0.3}\n```"

	diagnosis, err := parseDiagnosis(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diagnosis.RootCause != "unclear" {
		t.Fatalf("unexpected root cause %q", diagnosis.RootCause)
	}
	if diagnosis.RootCauseSummary != "unclear" {
		t.Fatalf("summary should default to root cause, got %q", diagnosis.RootCauseSummary)
	}
}

func TestParseDiagnosisRejectsGarbage(t *testing.T) {
	if _, err := parseDiagnosis("the model refused to answer"); err == nil {
		t.Fatalf("expected error for non-JSON output")
	}
	if _, err := parseDiagnosis(`{"severity":"high"}`); err == nil {
		t.Fatalf("expected error for missing root_cause")
	}
	if _, err := parseDiagnosis(`{"root_cause": truncated`); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestBuildUserPromptDefaults(t *testing.T) {
	prompt := buildUserPrompt("## Failed Task", "", "")
	if !strings.Contains(prompt, "No known error patterns detected.") {
		t.Fatalf("expected pattern placeholder in prompt")
	}
	if !strings.Contains(prompt, "No similar past incidents found.") {
		t.Fatalf("expected incident placeholder in prompt")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "sorcery"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
