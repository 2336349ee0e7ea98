//go:build e2e

package comprehensive

import (
	"strings"
	"testing"
)

// ===== T1: HTTP API Tests =====

func TestAPI_HealthCheck(t *testing.T) {
	status, body := apiGet(t, "/api/health")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	m := decodeMap(t, body)
	if m["status"] != "ok" {
		t.Errorf("expected status ok, got %v", m["status"])
	}
	if m["service"] != "pacer" {
		t.Errorf("expected service pacer, got %v", m["service"])
	}
}

func TestAPI_ChatValidation(t *testing.T) {
	status, body := apiPost(t, "/api/chat", map[string]interface{}{
		"identity": "not-an-email",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if status != 400 {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), "identity") {
		t.Errorf("expected an identity issue, got: %s", body)
	}
}

func TestAPI_ChatStream(t *testing.T) {
	status, body := apiPost(t, "/api/chat", map[string]interface{}{
		"identity": "e2e-api@pacer.dev",
		"messages": []map[string]string{{"role": "user", "content": "say hi in one word"}},
	})
	// 5xx means the upstream provider is not configured — skip gracefully
	if status >= 500 {
		t.Skipf("provider unavailable (status %d)", status)
	}
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), "data:") {
		t.Errorf("expected an event stream, got: %.200s", body)
	}
	t.Logf("stream: %.200s", body)
}

func TestAPI_ProfileLifecycle(t *testing.T) {
	identity := "e2e-profile@pacer.dev"

	status, body := apiPatch(t, "/api/profile", map[string]string{
		"identity":   identity,
		"name":       "E2E Runner",
		"experience": "intermediate",
		"goal":       "sub-45 10k",
	})
	if status != 200 {
		t.Fatalf("patch: expected 200, got %d: %s", status, body)
	}

	status, body = apiPost(t, "/api/activities", map[string]string{
		"identity": identity,
		"date":     "2026-08-20",
		"distance": "8km",
		"duration": "40m",
		"effort":   "moderate",
		"notes":    "progression run",
	})
	if status != 201 {
		t.Fatalf("activity: expected 201, got %d: %s", status, body)
	}

	status, body = apiPost(t, "/api/plans", map[string]string{
		"identity": identity,
		"title":    "10k Sharpening",
		"summary":  "three quality sessions over two weeks",
	})
	if status != 201 {
		t.Fatalf("plan: expected 201, got %d: %s", status, body)
	}

	status, body = apiGet(t, "/api/profile?identity="+identity)
	if status != 200 {
		t.Fatalf("get: expected 200, got %d: %s", status, body)
	}
	m := decodeMap(t, body)
	if m["name"] != "E2E Runner" {
		t.Errorf("name = %v", m["name"])
	}
	if m["goal"] != "sub-45 10k" {
		t.Errorf("goal = %v", m["goal"])
	}
	if acts, ok := m["activities"].([]interface{}); !ok || len(acts) == 0 {
		t.Errorf("expected logged activities, got %v", m["activities"])
	}
	if plans, ok := m["plans"].([]interface{}); !ok || len(plans) == 0 {
		t.Errorf("expected saved plans, got %v", m["plans"])
	}
}

func TestAPI_ProfileNotFound(t *testing.T) {
	status, _ := apiGet(t, "/api/profile?identity=ghost@pacer.dev")
	if status != 404 {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestAPI_ActivityValidation(t *testing.T) {
	status, body := apiPost(t, "/api/activities", map[string]string{
		"identity": "e2e-api@pacer.dev",
		"date":     "20/08/2026",
		"distance": "8km",
	})
	if status != 400 {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), "YYYY-MM-DD") {
		t.Errorf("expected a date format issue, got: %s", body)
	}
}

func TestAPI_Usage(t *testing.T) {
	status, body := apiGet(t, "/api/usage?identity=e2e-api@pacer.dev")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	m := decodeMap(t, body)
	for _, key := range []string{"count", "window_start", "remaining"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in usage response: %s", key, body)
		}
	}
}
