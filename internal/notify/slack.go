// Package notify delivers diagnosis summaries to chat channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// SlackNotifier posts a rendered diagnosis to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier constructs a notifier. An empty webhook URL produces a
// disabled notifier.
func NewSlackNotifier(webhookURL, channel string, timeout time.Duration, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether a webhook is configured.
func (n *SlackNotifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

// NotifyReport renders the report as Block Kit and posts it.
func (n *SlackNotifier) NotifyReport(ctx context.Context, report *models.RCAReport) error {
	if !n.Enabled() {
		return nil
	}

	payload := map[string]interface{}{
		"text":   report.Summary(),
		"blocks": buildBlocks(report),
	}
	if n.channel != "" {
		payload["channel"] = n.channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	n.logger.Debug("slack notification sent", slog.String("report_id", report.ReportID))
	return nil
}

var severityEmoji = map[models.Severity]string{
	models.SeverityCritical: ":rotating_light:",
	models.SeverityHigh:     ":red_circle:",
	models.SeverityMedium:   ":large_yellow_circle:",
	models.SeverityLow:      ":large_blue_circle:",
}

func buildBlocks(report *models.RCAReport) []map[string]interface{} {
	emoji := severityEmoji[report.Severity]
	if emoji == "" {
		emoji = ":grey_question:"
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Pipeline failure: %s / %s", emoji, report.PipelineID, report.TaskID),
			},
		},
		{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Root cause:* %s", report.RootCauseSummary)),
		},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				mrkdwn(fmt.Sprintf("*Category:*\n%s", report.Category)),
				mrkdwn(fmt.Sprintf("*Severity:*\n%s", report.Severity)),
				mrkdwn(fmt.Sprintf("*Confidence:*\n%.0f%%", report.Confidence*100)),
				mrkdwn(fmt.Sprintf("*Recurring:*\n%s", yesNo(report.IsRecurring))),
			},
		},
	}

	if len(report.Recommendations) > 0 {
		var lines strings.Builder
		for i, rec := range report.Recommendations {
			if i == 3 {
				break
			}
			fmt.Fprintf(&lines, "%d. %s\n", i+1, rec.Action)
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn("*Recommended actions:*\n" + strings.TrimRight(lines.String(), "\n")),
		})
	}

	if report.ImmediateAction != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf(":zap: *Immediate action:* %s", report.ImmediateAction)),
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]interface{}{
			mrkdwn(fmt.Sprintf("Report `%s` | model %s | %d similar incidents | analyzed in %dms",
				report.ReportID, report.Model, len(report.SimilarIncidents), report.AnalysisDurationMs)),
		},
	})

	return blocks
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{"type": "mrkdwn", "text": text}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
