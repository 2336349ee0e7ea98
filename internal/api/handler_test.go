package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/actor"
	"github.com/pacerhq/pacer/internal/llm"
	"github.com/pacerhq/pacer/internal/payload"
	"github.com/pacerhq/pacer/internal/ratelimit"
	"github.com/pacerhq/pacer/internal/state"
)

// stubClient answers with canned bytes and records the last outbound
// message sequence.
type stubClient struct {
	mu        sync.Mutex
	streamSSE string
	reply     string
	lastMsgs  []llm.Message
}

func (s *stubClient) Stream(_ context.Context, msgs []llm.Message) (io.ReadCloser, error) {
	s.mu.Lock()
	s.lastMsgs = msgs
	s.mu.Unlock()
	return io.NopCloser(strings.NewReader(s.streamSSE)), nil
}

func (s *stubClient) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	s.mu.Lock()
	s.lastMsgs = msgs
	s.mu.Unlock()
	return s.reply, nil
}

func (s *stubClient) last() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsgs
}

// newTestServer wires a Handler over in-memory deps and a stubbed
// provider. ceiling bounds the request budget.
func newTestServer(t *testing.T, ceiling int) (*httptest.Server, *stubClient) {
	t.Helper()
	logger := zap.NewNop()

	client := &stubClient{
		streamSSE: "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n",
		reply:     "an easy 5k",
	}
	st := state.NewMemory()
	limiter := ratelimit.New(st, ceiling, time.Hour)
	dispatcher := actor.NewDispatcher(st, limiter, client, "You are pacer, a running coach.", logger)

	h := NewHandler(dispatcher, nil, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, client
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func patchJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("PATCH", ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func chatPayload(identity, content string) map[string]interface{} {
	return map[string]interface{}{
		"identity": identity,
		"messages": []map[string]string{{"role": "user", "content": content}},
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["service"] != "pacer" {
		t.Errorf("expected service pacer, got %q", body["service"])
	}
}

func TestChatRelaysProviderStream(t *testing.T) {
	ts, client := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "hello"))
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("got content type %q, want text/event-stream", ct)
	}

	relayed, _ := io.ReadAll(resp.Body)
	if string(relayed) != client.streamSSE {
		t.Errorf("got body %q, want provider bytes untouched", relayed)
	}

	// The outbound sequence leads with the coaching instructions.
	msgs := client.last()
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("got outbound %+v, want system then user", msgs)
	}
	if !strings.HasPrefix(msgs[0].Content, "You are pacer") {
		t.Errorf("got system %q, want base instructions first", msgs[0].Content)
	}
}

func TestChatValidation(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/chat", chatPayload("not-an-email", "hello"))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeJSON(t, resp, &body)
	if body.Error != "invalid request" {
		t.Errorf("got error %q", body.Error)
	}
	if len(body.Issues) != 1 || body.Issues[0].Path[0] != "identity" {
		t.Errorf("got issues %+v, want identity issue", body.Issues)
	}
}

func TestChatRejectsOverlongConversation(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	msgs := make([]map[string]string, payload.MaxMessages+1)
	for i := range msgs {
		msgs[i] = map[string]string{"role": "user", "content": "tick"}
	}
	resp := postJSON(t, ts, "/api/chat", map[string]interface{}{
		"identity": "sam@run.club",
		"messages": msgs,
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeJSON(t, resp, &body)
	if len(body.Issues) != 1 || body.Issues[0].Path[0] != "messages" {
		t.Errorf("got issues %+v, want a messages issue", body.Issues)
	}
}

func TestChatSpellingsShareOneRecord(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/chat", chatPayload("  Runner@Example.COM ", "hi"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("first chat: expected 200, got %d", resp.StatusCode)
	}

	var first struct {
		CreatedAt time.Time `json:"created_at"`
	}
	resp = getJSON(t, ts, "/api/profile?identity=runner@example.com")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 under normalized identity, got %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &first)

	resp = postJSON(t, ts, "/api/chat", chatPayload("runner@example.com", "hi again"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("second chat: expected 200, got %d", resp.StatusCode)
	}

	var second struct {
		CreatedAt time.Time `json:"created_at"`
	}
	resp = getJSON(t, ts, "/api/profile?identity=runner@example.com")
	decodeJSON(t, resp, &second)
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("creation stamp moved: %v then %v", first.CreatedAt, second.CreatedAt)
	}

	// Both turns were charged to the same window.
	var usage struct {
		Count int `json:"count"`
	}
	resp = getJSON(t, ts, "/api/usage?identity=runner@example.com")
	decodeJSON(t, resp, &usage)
	if usage.Count != 2 {
		t.Errorf("got count %d, want both spellings charged together", usage.Count)
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/chat",
		chatPayload("sam@run.club", strings.Repeat("x", payload.MaxBodyBytes)))
	defer resp.Body.Close()
	if resp.StatusCode != 413 {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestChatRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, 1)

	resp := postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "one"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("first request: expected 200, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "two"))
	if resp.StatusCode != 429 {
		t.Fatalf("second request: expected 429, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeJSON(t, resp, &body)
	if body.Error != "rate limit exceeded" {
		t.Errorf("got error %q", body.Error)
	}
}

func TestProfileLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	// Set the stable facts.
	resp := patchJSON(t, ts, "/api/profile", map[string]string{
		"identity":   "sam@run.club",
		"name":       "Sam",
		"experience": "intermediate",
		"goal":       "sub-50 10k",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("patch: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Log a run.
	resp = postJSON(t, ts, "/api/activities", map[string]string{
		"identity": "sam@run.club",
		"date":     "2026-03-01",
		"distance": "8km",
		"duration": "42m",
		"effort":   "easy",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("activity: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Save a plan.
	resp = postJSON(t, ts, "/api/plans", map[string]string{
		"identity": "sam@run.club",
		"title":    "Base Build",
		"summary":  "Four easy weeks",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("plan: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Everything reads back in one snapshot.
	resp = getJSON(t, ts, "/api/profile?identity=sam@run.club")
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var profile struct {
		Identity   string `json:"identity"`
		Name       string `json:"name"`
		Experience string `json:"experience"`
		Goal       string `json:"goal"`
		Activities []struct {
			Distance string `json:"distance"`
			Effort   string `json:"effort"`
		} `json:"activities"`
		Plans []struct {
			Title string `json:"title"`
		} `json:"plans"`
	}
	decodeJSON(t, resp, &profile)
	if profile.Name != "Sam" || profile.Experience != "intermediate" || profile.Goal != "sub-50 10k" {
		t.Errorf("got %+v, want patched facts", profile)
	}
	if len(profile.Activities) != 1 || profile.Activities[0].Distance != "8km" {
		t.Errorf("got activities %+v, want the logged run", profile.Activities)
	}
	if len(profile.Plans) != 1 || profile.Plans[0].Title != "Base Build" {
		t.Errorf("got plans %+v, want the saved plan", profile.Plans)
	}
}

func TestProfileIdentityIsNormalized(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := patchJSON(t, ts, "/api/profile", map[string]string{
		"identity": "  Sam@Run.Club ",
		"name":     "Sam",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("patch: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/profile?identity=sam@run.club")
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 under normalized identity, got %d", resp.StatusCode)
	}
}

func TestProfileNotFound(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := getJSON(t, ts, "/api/profile?identity=nobody@run.club")
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProfileActiveFallback(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	// No identity given and nothing served yet.
	resp := getJSON(t, ts, "/api/profile")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 with no active identity, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A chat makes its identity the active one.
	resp = postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "hello"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/profile")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 via active identity, got %d", resp.StatusCode)
	}
	var profile struct {
		Identity string `json:"identity"`
	}
	decodeJSON(t, resp, &profile)
	if profile.Identity != "sam@run.club" {
		t.Errorf("got identity %q, want the active one", profile.Identity)
	}
}

func TestPatchProfileRejectsBadTier(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := patchJSON(t, ts, "/api/profile", map[string]string{
		"identity":   "sam@run.club",
		"experience": "olympian",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeJSON(t, resp, &body)
	if len(body.Issues) != 1 || body.Issues[0].Path[0] != "experience" {
		t.Errorf("got issues %+v, want experience issue", body.Issues)
	}
}

func TestActivityRejectsBadDate(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/activities", map[string]string{
		"identity": "sam@run.club",
		"date":     "01/03/2026",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeJSON(t, resp, &body)
	if len(body.Issues) != 1 || body.Issues[0].Message != "date must be YYYY-MM-DD" {
		t.Errorf("got issues %+v, want date format issue", body.Issues)
	}
}

func TestPlanRequiresSummary(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := postJSON(t, ts, "/api/plans", map[string]string{
		"identity": "sam@run.club",
		"title":    "no summary",
	})
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUsageEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 5)

	resp := postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "hello"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/usage?identity=sam@run.club")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var usage usageResponse
	decodeJSON(t, resp, &usage)
	if usage.Count != 1 || usage.Remaining != 4 {
		t.Errorf("got count %d remaining %d, want 1 and 4", usage.Count, usage.Remaining)
	}
	if usage.WindowStart.IsZero() {
		t.Error("window start missing")
	}
}

func TestProfileShapesTheSystemPrompt(t *testing.T) {
	ts, client := newTestServer(t, 10)

	patchJSON(t, ts, "/api/profile", map[string]string{
		"identity": "sam@run.club",
		"name":     "Sam",
		"goal":     "sub-50 10k",
	}).Body.Close()
	postJSON(t, ts, "/api/plans", map[string]string{
		"identity": "sam@run.club",
		"title":    "Base Build",
		"summary":  "Four easy weeks",
	}).Body.Close()

	resp := postJSON(t, ts, "/api/chat", chatPayload("sam@run.club", "what next?"))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	msgs := client.last()
	if len(msgs) == 0 {
		t.Fatal("provider never called")
	}
	system := msgs[0].Content
	for _, want := range []string{"Name: Sam", "Goal: sub-50 10k", "Latest plan: Base Build"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system)
		}
	}
}
