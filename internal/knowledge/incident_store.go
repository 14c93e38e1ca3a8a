// Package knowledge persists diagnoses in a vector store and retrieves
// similar historical incidents for new failures.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pipewatch/rca-agent/internal/cache"
	"github.com/pipewatch/rca-agent/internal/models"
)

const incidentClass = "PipelineIncident"

// IncidentStore reads and writes diagnosed incidents in Weaviate. Retrieval
// results may be cached; writes always go to the store.
type IncidentStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	similarTTL time.Duration
}

// NewIncidentStore constructs a store client. A nil cache provider disables
// read-through caching.
func NewIncidentStore(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, similarTTL time.Duration) *IncidentStore {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if similarTTL < 0 {
		similarTTL = 0
	}
	return &IncidentStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		similarTTL: similarTTL,
	}
}

// FindSimilar returns past incidents resembling the given failure, ordered by
// similarity score descending. Scores derive from the store's distance metric
// via clamp(1 - distance, 0, 1); ties keep store order.
func (s *IncidentStore) FindSimilar(ctx context.Context, pipelineID, taskID, errorText string, category models.ErrorCategory, maxResults int) ([]models.SimilarIncident, error) {
	if s == nil || s.endpoint == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	cacheKey := ""
	if s.similarTTL > 0 {
		cacheKey = similarCacheKey(pipelineID, taskID, errorText, category, maxResults)
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.SimilarIncident
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	queryText := fmt.Sprintf("Pipeline: %s\nTask: %s\nError: %s", pipelineID, taskID, errorText)

	filter := ""
	if category != "" {
		filter = fmt.Sprintf("\n        where: {path: [\"category\"], operator: Equal, valueString: %q}", string(category))
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
      Get {
        %s(
          limit: %d
          nearText: {concepts: [%s]}%s
        ) {
          reportId
          pipelineId
          taskId
          category
          rootCause
          resolution
          failureTime
          _additional { id distance }
        }
      }
    }`, incidentClass, maxResults, strconv.Quote(queryText), filter),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	body, err := s.do(ctx, http.MethodPost, "/v1/graphql", payload)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	var response struct {
		Data struct {
			Get map[string][]struct {
				ReportID    string `json:"reportId"`
				PipelineID  string `json:"pipelineId"`
				TaskID      string `json:"taskId"`
				Category    string `json:"category"`
				RootCause   string `json:"rootCause"`
				Resolution  string `json:"resolution"`
				FailureTime string `json:"failureTime"`
				Additional  struct {
					ID       string  `json:"id"`
					Distance float64 `json:"distance"`
				} `json:"_additional"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode similarity response: %w", err)
	}

	records := response.Data.Get[incidentClass]
	incidents := make([]models.SimilarIncident, 0, len(records))
	for _, rec := range records {
		date, _ := time.Parse(time.RFC3339, rec.FailureTime)
		incidents = append(incidents, models.SimilarIncident{
			IncidentID:      rec.Additional.ID,
			Date:            date,
			PipelineID:      rec.PipelineID,
			TaskID:          rec.TaskID,
			Category:        models.ParseErrorCategory(rec.Category),
			RootCause:       rec.RootCause,
			Resolution:      rec.Resolution,
			SimilarityScore: distanceToScore(rec.Additional.Distance),
		})
	}

	if s.similarTTL > 0 && cacheKey != "" && len(incidents) > 0 {
		if data, err := json.Marshal(incidents); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.similarTTL)
		}
	}

	return incidents, nil
}

// Persist stores a diagnosis keyed by its report id. A repeated persist of the
// same report overwrites the prior object, so retries are safe.
func (s *IncidentStore) Persist(ctx context.Context, report *models.RCAReport) (string, error) {
	if s == nil || s.endpoint == "" {
		return "", fmt.Errorf("incident store not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"class":      incidentClass,
		"id":         report.ReportID,
		"properties": incidentProperties(report),
	})
	if err != nil {
		return "", err
	}

	if _, err := s.do(ctx, http.MethodPut, "/v1/objects/"+report.ReportID, payload); err != nil {
		return "", fmt.Errorf("persist incident: %w", err)
	}
	return report.ReportID, nil
}

// UpdateResolution records how an incident was resolved, keyed by incident id.
// Returns false when the incident does not exist.
func (s *IncidentStore) UpdateResolution(ctx context.Context, incidentID, resolution string) (bool, error) {
	if s == nil || s.endpoint == "" {
		return false, fmt.Errorf("incident store not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"class": incidentClass,
		"id":    incidentID,
		"properties": map[string]interface{}{
			"resolution": resolution,
			"resolvedAt": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.endpoint+"/v1/objects/"+incidentID, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("update resolution failed: %s", strings.TrimSpace(string(data)))
	}
	return true, nil
}

// incidentProperties flattens a report into the stored object. The content
// property is the text the store vectorizes; its shape must stay aligned with
// the FindSimilar query text.
func incidentProperties(report *models.RCAReport) map[string]interface{} {
	content := fmt.Sprintf("Pipeline: %s\nTask: %s\nError: %s\nRoot cause: %s",
		report.PipelineID, report.TaskID, strings.Join(report.KeyLogLines, "\n"), report.RootCause)

	return map[string]interface{}{
		"reportId":         report.ReportID,
		"pipelineId":       report.PipelineID,
		"taskId":           report.TaskID,
		"runId":            report.RunID,
		"category":         string(report.Category),
		"severity":         string(report.Severity),
		"rootCause":        report.RootCause,
		"rootCauseSummary": report.RootCauseSummary,
		"confidence":       report.Confidence,
		"resolution":       "",
		"failureTime":      report.FailureTime.UTC().Format(time.RFC3339),
		"generatedAt":      report.GeneratedAt.UTC().Format(time.RFC3339),
		"content":          content,
	}
}

func (s *IncidentStore) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("store returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (s *IncidentStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// distanceToScore converts the store's distance to a similarity score. The
// clamp assumes distances roughly in [0, 1]; unbounded metrics collapse to 0.
func distanceToScore(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func similarCacheKey(pipelineID, taskID, errorText string, category models.ErrorCategory, limit int) string {
	h := fnv.New64a()
	h.Write([]byte(errorText))
	return fmt.Sprintf("incidents:similar:%s:%s:%s:%d:%x", pipelineID, taskID, category, limit, h.Sum64())
}
