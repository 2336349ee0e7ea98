package llm

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

// Anthropic implements Client for the Claude Messages API.
type Anthropic struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

// convert lifts system entries into the dedicated request field; the
// Messages API rejects "system" as a message role.
func (c *Anthropic) convert(msgs []Message, stream bool) anthropicRequest {
	ar := anthropicRequest{Model: c.cfg.Model, MaxTokens: 4096, Stream: stream}
	for _, m := range msgs {
		if m.Role == "system" {
			if ar.System != "" {
				ar.System += "\n\n"
			}
			ar.System += m.Content
			continue
		}
		ar.Messages = append(ar.Messages, m)
	}
	return ar
}

func (c *Anthropic) send(ctx context.Context, req anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// Stream opens a streaming completion and returns the raw SSE body.
func (c *Anthropic) Stream(ctx context.Context, msgs []Message) (io.ReadCloser, error) {
	resp, err := c.send(ctx, c.convert(msgs, true))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete runs a buffered completion and joins the text blocks.
func (c *Anthropic) Complete(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.send(ctx, c.convert(msgs, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var claudeResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	content := ""
	for _, b := range claudeResp.Content {
		if b.Type == "text" {
			content += b.Text
		}
	}
	return content, nil
}
