package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/health"
)

func serve(t *testing.T, h *health.Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	srv := serve(t, health.New(health.Checker{
		Name:  "always-failing",
		Check: func(context.Context) error { return errors.New("down") },
	}))

	status, body := getJSON(t, srv.URL+"/healthz")
	if status != http.StatusOK {
		t.Errorf("status = %d; want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if body["uptime"] == "" {
		t.Error("uptime missing")
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	t.Parallel()

	srv := serve(t, health.New(
		health.Checker{Name: "a", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "b", Check: func(context.Context) error { return nil }},
	))

	status, body := getJSON(t, srv.URL+"/readyz")
	if status != http.StatusOK {
		t.Errorf("status = %d; want 200", status)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["a"] != "ok" || checks["b"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	t.Parallel()

	srv := serve(t, health.New(
		health.Checker{Name: "good", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "bad", Check: func(context.Context) error { return errors.New("draining") }},
	))

	status, body := getJSON(t, srv.URL+"/readyz")
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want 503", status)
	}
	if body["status"] != "fail" {
		t.Errorf("status field = %v; want fail", body["status"])
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["good"] != "ok" {
		t.Errorf("good check = %v", checks["good"])
	}
}

func TestReadyz_NoCheckersIsReady(t *testing.T) {
	t.Parallel()

	srv := serve(t, health.New())
	status, _ := getJSON(t, srv.URL+"/readyz")
	if status != http.StatusOK {
		t.Errorf("status = %d; want 200", status)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := serve(t, health.New())
	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d; want 405", resp.StatusCode)
	}
}
