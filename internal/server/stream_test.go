package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/posecapture/internal/capture"
)

type staticSource struct {
	mu    sync.Mutex
	frame capture.Frame
}

func (s *staticSource) LatestFrame() (capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, !s.frame.Empty()
}

func TestStreamHandler_WritesMultipartFrames(t *testing.T) {
	src := &staticSource{frame: capture.Frame{Data: []byte{0xFF, 0xD8, 0xAB, 0xFF, 0xD9}, Timestamp: time.Now()}}
	h := NewStreamHandler(src)
	h.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.Bytes()
	if !bytes.Contains(body, []byte("Content-Type: image/jpeg")) {
		t.Error("missing part header")
	}
	// The same frame is only sent once.
	if n := bytes.Count(body, []byte("--frame")); n != 1 {
		t.Errorf("parts = %d, want 1", n)
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(&staticSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/stream", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
