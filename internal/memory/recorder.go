// Package memory records workflow episodes to an external knowledge service.
// Recording is strictly best-effort: the workflow never fails because the
// memory service is down.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Recorder stores a piece of workflow knowledge with a source description.
type Recorder interface {
	Record(ctx context.Context, content, source string) error
}

// Nop discards everything. Used when memory recording is disabled.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, string, string) error { return nil }

// episode is the payload accepted by the episode-recording endpoint.
type episode struct {
	Content           string `json:"content"`
	SourceDescription string `json:"source_description"`
	EpisodeType       string `json:"episode_type"`
	DataLabel         string `json:"data_label"`
}

// HTTPRecorder posts episodes to a Graphiti-style memory service.
type HTTPRecorder struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPRecorder creates a recorder for the given service base URL.
func NewHTTPRecorder(baseURL string, logger *zap.Logger) *HTTPRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRecorder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Record posts one episode. Callers are expected to log-and-swallow any error.
func (r *HTTPRecorder) Record(ctx context.Context, content, source string) error {
	body, err := json.Marshal(episode{
		Content:           content,
		SourceDescription: fmt.Sprintf("mcp-dev-team:%s", source),
		EpisodeType:       "dev_workflow",
		DataLabel:         "intelligence",
	})
	if err != nil {
		return fmt.Errorf("failed to encode episode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/episodes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build episode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to record episode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("memory service returned %d", resp.StatusCode)
	}

	r.logger.Debug("episode recorded", zap.String("source", source))
	return nil
}
