package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/actor"
	"github.com/pacerhq/pacer/internal/api"
	"github.com/pacerhq/pacer/internal/command"
	"github.com/pacerhq/pacer/internal/gateway"
	"github.com/pacerhq/pacer/internal/llm"
	"github.com/pacerhq/pacer/internal/ratelimit"
	"github.com/pacerhq/pacer/internal/router"
	"github.com/pacerhq/pacer/internal/state"
)

// Package-level shared state, set by TestMain and used by all subtests.
var (
	testLogger   *zap.Logger
	testPGDSN    string
	testRedisURL string
)

// skipWithoutStack skips tests that need the container stack.
func skipWithoutStack(t *testing.T) {
	t.Helper()
	if os.Getenv("PACER_TEST_CONTAINERS") == "" {
		t.Skip("set PACER_TEST_CONTAINERS=1 to run the end-to-end suite")
	}
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("pacer_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return "redis://" + endpoint, cleanup, nil
}

// ---------------------------------------------------------------------------
// Fake inference provider
// ---------------------------------------------------------------------------

type providerRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeProvider is an OpenAI-shaped upstream. Streaming requests get a
// fixed SSE body, buffered requests get a single completion, and every
// request is recorded for prompt assertions.
type fakeProvider struct {
	srv      *httptest.Server
	reply    string
	mu       sync.Mutex
	requests []providerRequest
}

func newFakeProvider(t *testing.T, reply string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", p.handle)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range splitReply(p.reply) {
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]string{"content": piece}},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": p.reply}},
		},
	})
}

// splitReply breaks the canned reply into a couple of deltas so the
// relay path sees more than one chunk.
func splitReply(reply string) []string {
	mid := len(reply) / 2
	if mid == 0 {
		return []string{reply}
	}
	return []string{reply[:mid], reply[mid:]}
}

// lastRequest returns the most recent captured upstream request.
func (p *fakeProvider) lastRequest(t *testing.T) providerRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("provider received no requests")
	}
	return p.requests[len(p.requests)-1]
}

// systemPrompt returns the leading system entry of the last request.
func (p *fakeProvider) systemPrompt(t *testing.T) string {
	t.Helper()
	req := p.lastRequest(t)
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		t.Fatalf("no leading system entry in %+v", req.Messages)
	}
	return req.Messages[0].Content
}

// ---------------------------------------------------------------------------
// Capture adapter
// ---------------------------------------------------------------------------

// CaptureAdapter is a test gateway adapter that records all outbound
// messages and lets tests inject inbound ones.
type CaptureAdapter struct {
	sent    []*gateway.OutboundMessage
	handler gateway.MessageHandler
	mu      sync.Mutex
}

func (c *CaptureAdapter) Platform() string { return "test" }

func (c *CaptureAdapter) Connect(ctx context.Context) error { return nil }

func (c *CaptureAdapter) OnMessage(h gateway.MessageHandler) { c.handler = h }

func (c *CaptureAdapter) Close() error { return nil }

func (c *CaptureAdapter) Send(ctx context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

// Inject simulates an inbound message from a user.
func (c *CaptureAdapter) Inject(msg *gateway.InboundMessage) {
	msg.Platform = "test"
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if c.handler != nil {
		c.handler(msg)
	}
}

// Sent returns a copy of all captured outbound messages.
func (c *CaptureAdapter) Sent() []*gateway.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*gateway.OutboundMessage, len(c.sent))
	copy(cp, c.sent)
	return cp
}

// Reset clears captured messages.
func (c *CaptureAdapter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// LastReply returns the most recent outbound message.
func (c *CaptureAdapter) LastReply(t *testing.T) *gateway.OutboundMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no reply was sent")
	}
	return c.sent[len(c.sent)-1]
}

// ---------------------------------------------------------------------------
// Full service stack
// ---------------------------------------------------------------------------

// stack is a complete pacer service wired the way cmd/pacer wires it,
// with a fake provider upstream and a capture adapter alongside the
// REST gateway.
type stack struct {
	api      *httptest.Server
	capture  *CaptureAdapter
	provider *fakeProvider
}

func newStack(t *testing.T, st state.Store, ceiling int, reply string) *stack {
	t.Helper()

	provider := newFakeProvider(t, reply)
	client, err := llm.NewClient(llm.Config{
		Type:     "openai",
		Endpoint: provider.srv.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	}, testLogger)
	if err != nil {
		t.Fatalf("llm client: %v", err)
	}

	limiter := ratelimit.New(st, ceiling, time.Hour)
	dispatcher := actor.NewDispatcher(st, limiter, client,
		"You are pacer, a running coach.", testLogger)

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, dispatcher, st)

	gw := gateway.NewGateway(testLogger)
	msgRouter := router.New(dispatcher, gw, st, commands, testLogger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(testLogger)
	gw.Register(restAdapter)
	capture := &CaptureAdapter{}
	gw.Register(capture)

	h := api.NewHandler(dispatcher, restAdapter, testLogger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { gw.Close() })

	return &stack{api: srv, capture: capture, provider: provider}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func apiDo(t *testing.T, method, url string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

func apiGet(t *testing.T, url string) (int, []byte) {
	t.Helper()
	return apiDo(t, http.MethodGet, url, nil)
}

func apiPost(t *testing.T, url string, payload any) (int, []byte) {
	t.Helper()
	return apiDo(t, http.MethodPost, url, payload)
}

func apiPatch(t *testing.T, url string, payload any) (int, []byte) {
	t.Helper()
	return apiDo(t, http.MethodPatch, url, payload)
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

// chatBody builds a single-turn conversation payload.
func chatBody(identity, content string) map[string]any {
	return map[string]any{
		"identity": identity,
		"messages": []map[string]string{
			{"role": "user", "content": content},
		},
	}
}

// wantContains fails unless every fragment appears in s.
func wantContains(t *testing.T, s string, fragments ...string) {
	t.Helper()
	for _, f := range fragments {
		if !strings.Contains(s, f) {
			t.Errorf("missing %q in %q", f, s)
		}
	}
}
