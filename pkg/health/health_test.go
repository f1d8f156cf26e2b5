package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthAlwaysAlive(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("unexpected status: %v", body["status"])
	}
}

func TestReadyGate(t *testing.T) {
	statuses := []CameraStatus{{Camera: "cam1", Bot: "alerts", State: "idle"}}
	s := NewServer("127.0.0.1:0", func() []CameraStatus { return statuses })

	rec := httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	s.SetReady(true)
	rec = httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", rec.Code)
	}

	var body struct {
		Status  string         `json:"status"`
		Cameras []CameraStatus `json:"cameras"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "ready" || len(body.Cameras) != 1 || body.Cameras[0].Camera != "cam1" {
		t.Errorf("unexpected readiness body: %+v", body)
	}
}
