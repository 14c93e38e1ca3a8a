package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4o

// openaiCapability implements Capability via the OpenAI chat completions API.
type openaiCapability struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

func newOpenAICapability(cfg Config) *openaiCapability {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}

	return &openaiCapability{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   tokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
	}
}

func (c *openaiCapability) Model() string {
	return "openai/" + c.model
}

// Diagnose sends the analysis prompt and parses the structured response.
func (c *openaiCapability) Diagnose(ctx context.Context, promptContext, patternSummary, similarSummary string) (*StructuredDiagnosis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(promptContext, patternSummary, similarSummary)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response contained no choices")
	}

	return parseDiagnosis(resp.Choices[0].Message.Content)
}
