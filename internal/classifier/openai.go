package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tariffsync/internal/logger"
	"tariffsync/internal/metrics"

	"github.com/google/uuid"
)

var ErrMissingAPIKey = errors.New("classifier: missing api key")

// Config for the OpenAI-compatible chat completions client.
type Config struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	Model       string // default gpt-4o
	Temperature float64
	Timeout     time.Duration
}

type OpenAI struct {
	cfg  Config
	http *http.Client
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Complete sends one chat completion constrained by req.Schema and returns
// the message content as is.
func (c *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	rid := uuid.New().String()
	start := time.Now()

	content := make([]map[string]any, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.ImageURL != "" {
			content = append(content, map[string]any{"type": "image_url", "image_url": map[string]any{"url": p.ImageURL}})
			continue
		}
		content = append(content, map[string]any{"type": "text", "text": p.Text})
	}
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.SchemaName,
				"strict": true,
				"schema": req.Schema,
			},
		},
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": content},
		},
	}

	log := logger.WithFields(logger.Fields{"req_id": rid, "model": c.cfg.Model, "parts": len(req.Parts)})
	log.Info("classifier.request")

	raw, err := c.post(ctx, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", body)
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).WithField("elapsed_ms", time.Since(start).Milliseconds()).Error("classifier.http_error")
		return nil, err
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, errors.New("no choices in completion")
	}
	msg := cc.Choices[0].Message
	if msg.Content == "" && msg.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", msg.Refusal)
	}
	model := cc.Model
	if model == "" {
		model = c.cfg.Model
	}
	log.WithFields(logger.Fields{"elapsed_ms": time.Since(start).Milliseconds(), "model_version": model}).Info("classifier.ok")
	return &Completion{Content: msg.Content, Model: model}, nil
}

func (c *OpenAI) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("openai read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, data)
	}
	return data, nil
}
