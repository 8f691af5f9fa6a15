package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/capture"
	"github.com/ayusman/posecapture/internal/detector"
	"github.com/ayusman/posecapture/internal/enroll"
	"github.com/ayusman/posecapture/internal/store"
	"github.com/ayusman/posecapture/internal/testutil"
)

func TestAPI_EnrollmentWorkflow(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	det := detector.NewMockDetector()
	det.SetFace(0.9)

	ctrl := app.New(app.Config{
		Camera:   capture.NewStillCamera(testutil.GrayFrame(t)),
		Detector: det,
		FPS:      100,
	})
	defer ctrl.Close()
	ctrl.AddSink(store.NewSink(s))

	srv := New(Config{Store: s, Controller: ctrl, Defaults: app.DefaultSessionConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Subscribe to events
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	conn.ReadMessage() // status snapshot

	// 2. Start a session
	body := `{"poses": ["center", "left"], "threshold": 0.5, "cooldown_ms": 20}`
	resp, err := client.Post(ts.URL+"/api/session", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/session error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()

	// 3. Wait for completion over the websocket
	for {
		var e enroll.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if e.Type == enroll.EventSessionCompleted {
			if e.SessionID != started.SessionID {
				t.Errorf("completed session = %q, want %q", e.SessionID, started.SessionID)
			}
			break
		}
	}

	// 4. The enrollment was persisted
	resp, _ = client.Get(ts.URL + "/api/enrollments/" + started.SessionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET enrollment status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var enrollment struct {
		Captures []struct {
			Pose string `json:"pose"`
			URL  string `json:"url"`
		} `json:"captures"`
	}
	json.NewDecoder(resp.Body).Decode(&enrollment)
	resp.Body.Close()

	if len(enrollment.Captures) != 2 {
		t.Fatalf("captures = %d, want 2", len(enrollment.Captures))
	}

	// 5. Fetch an image
	resp, _ = client.Get(ts.URL + enrollment.Captures[1].URL)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("GET capture = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	resp.Body.Close()

	// 6. A new session can start after completion
	resp, _ = client.Post(ts.URL+"/api/session", "application/json", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("restart status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	resp.Body.Close()

	// 7. Abort it
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/session", nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("DELETE /api/session status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 8. Delete the enrollment
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/enrollments/"+started.SessionID, nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE enrollment status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()
}

func TestAPI_HealthReportsSession(t *testing.T) {
	ctrl := app.New(app.Config{Camera: capture.NewMockCamera(nil, false), Detector: detector.NewMockDetector()})
	defer ctrl.Close()

	ts := httptest.NewServer(New(Config{Controller: ctrl}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Session string `json:"session"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" || health.Session != "idle" {
		t.Errorf("health = %+v", health)
	}
}
