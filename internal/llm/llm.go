// Package llm talks to the upstream inference service. The streaming
// path hands back the provider's raw event stream so callers can relay
// it without interpreting the bytes.
package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Message is one model-ready conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the inference surface the rest of the service uses.
type Client interface {
	// Stream opens a streaming completion and returns the provider's
	// raw event stream. The caller owns and closes it.
	Stream(ctx context.Context, msgs []Message) (io.ReadCloser, error)

	// Complete runs a buffered completion and returns the full text.
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Config shapes a provider client. Model is fixed at startup.
type Config struct {
	Type     string
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewClient builds the configured provider client.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAI(cfg, logger), nil
	case "anthropic":
		return NewAnthropic(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
}
