// Package moderate calls the content classification service that every
// outbound post, comment and message must pass through before it is
// pushed to the backend.
package moderate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Verdict is the classifier's judgement on a piece of content. Flagged
// content is still created server-side but hidden pending review; the
// embedding feeds the backend's similarity search.
type Verdict struct {
	Flagged   bool      `json:"flagged"`
	Details   string    `json:"details"`
	Embedding []float64 `json:"embedding"`
}

// Classifier is implemented by the HTTP client below and by test fakes.
type Classifier interface {
	Classify(ctx context.Context, content, kind string) (Verdict, error)
}

// HTTPClassifier talks to the moderation service. A classification
// failure fails the sync attempt for that row; content is never pushed
// unmoderated and never flagged by guesswork.
type HTTPClassifier struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

func NewHTTPClassifier(url string, timeout time.Duration, logger *zap.Logger) *HTTPClassifier {
	return &HTTPClassifier{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, content, kind string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{
		"content": content,
		"kind":    kind,
	})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/classify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Verdict{}, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, raw)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Flagged {
		c.logger.Info("content flagged by classifier", zap.String("kind", kind), zap.String("details", v.Details))
	}
	return v, nil
}
