package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
	defaultLLMTimeout     = 60 * time.Second
)

// anthropicCapability implements Capability via the Anthropic Messages API.
type anthropicCapability struct {
	client  anthropic.Client
	model   string
	tokens  int64
	timeout time.Duration
}

func newAnthropicCapability(cfg Config) *anthropicCapability {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &anthropicCapability{
		client:  anthropic.NewClient(opts...),
		model:   model,
		tokens:  int64(tokens),
		timeout: timeout,
	}
}

func (c *anthropicCapability) Model() string {
	return "anthropic/" + c.model
}

// Diagnose sends the analysis prompt and parses the structured response.
func (c *anthropicCapability) Diagnose(ctx context.Context, promptContext, patternSummary, similarSummary string) (*StructuredDiagnosis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.tokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(promptContext, patternSummary, similarSummary))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed: %w", err)
	}

	var parts []string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			parts = append(parts, resp.Content[i].Text)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("anthropic response contained no text")
	}

	return parseDiagnosis(strings.Join(parts, ""))
}
