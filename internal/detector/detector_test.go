package detector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const epsilon = 1e-9

func TestAccepts(t *testing.T) {
	tests := []struct {
		name      string
		result    Result
		threshold float64
		want      bool
	}{
		{
			name:      "no face",
			result:    Result{},
			threshold: 0.5,
			want:      false,
		},
		{
			name:      "above threshold",
			result:    FaceResult(0.9),
			threshold: 0.5,
			want:      true,
		},
		{
			name:      "exactly at threshold",
			result:    FaceResult(0.5),
			threshold: 0.5,
			want:      true,
		},
		{
			name:      "below threshold",
			result:    FaceResult(0.2),
			threshold: 0.5,
			want:      false,
		},
		{
			name:      "zero threshold accepts any present face",
			result:    FaceResult(0),
			threshold: 0,
			want:      true,
		},
		{
			name:      "zero threshold still requires a face",
			result:    Result{},
			threshold: 0,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepts(tt.result, tt.threshold); got != tt.want {
				t.Errorf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResult_Confidence(t *testing.T) {
	if got := (Result{}).Confidence(); got != 0 {
		t.Errorf("empty Confidence() = %f, want 0", got)
	}
	if got := FaceResult(0.75).Confidence(); math.Abs(got-0.75) > epsilon {
		t.Errorf("Confidence() = %f, want 0.75", got)
	}
}

func TestSelectBest(t *testing.T) {
	t.Run("empty returns nil", func(t *testing.T) {
		if SelectBest(nil) != nil {
			t.Error("expected nil for no faces")
		}
	})

	t.Run("single face returned", func(t *testing.T) {
		best := SelectBest([]Face{{Confidence: 0.4, W: 0.1, H: 0.1}})
		if best == nil || best.Confidence != 0.4 {
			t.Fatalf("SelectBest() = %+v", best)
		}
	})

	t.Run("large confident face wins over small background face", func(t *testing.T) {
		faces := []Face{
			{X: 0.1, Y: 0.1, W: 0.05, H: 0.05, Confidence: 0.8},
			{X: 0.5, Y: 0.5, W: 0.4, H: 0.5, Confidence: 0.75},
		}
		best := SelectBest(faces)
		if best == nil || best.X != 0.5 {
			t.Errorf("SelectBest() = %+v, want the centered face", best)
		}
	})

	t.Run("result does not alias input", func(t *testing.T) {
		faces := []Face{{Confidence: 0.9, W: 0.2, H: 0.2}}
		best := SelectBest(faces)
		best.Confidence = 0
		if faces[0].Confidence != 0.9 {
			t.Error("SelectBest returned a pointer into the input slice")
		}
	})
}

func TestMockDetector(t *testing.T) {
	t.Run("returns no face by default", func(t *testing.T) {
		mock := NewMockDetector()

		result, err := mock.Detect(nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result.Present() {
			t.Error("expected no face by default")
		}
	})

	t.Run("returns configured face", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetFace(0.9)

		result, _ := mock.Detect([]byte{0xFF})
		if !result.Present() || result.Confidence() != 0.9 {
			t.Errorf("Detect() = %+v, want face with confidence 0.9", result)
		}

		mock.SetNoFace()
		result, _ = mock.Detect([]byte{0xFF})
		if result.Present() {
			t.Error("expected no face after SetNoFace")
		}

		if mock.Calls() != 2 {
			t.Errorf("Calls() = %d, want 2", mock.Calls())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()
		wantErr := errors.New("backend down")
		mock.SetError(wantErr)

		if _, err := mock.Detect(nil); !errors.Is(err, wantErr) {
			t.Errorf("Detect() error = %v, want %v", err, wantErr)
		}
	})

	t.Run("delay blocks detect", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetDelay(20 * time.Millisecond)

		start := time.Now()
		mock.Detect(nil)
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("Detect() returned after %v, want at least 20ms", elapsed)
		}
	})

	t.Run("close", func(t *testing.T) {
		mock := NewMockDetector()
		if err := mock.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if !mock.Closed() {
			t.Error("Closed() = false after Close")
		}
	})
}

func TestParseServiceResponse(t *testing.T) {
	t.Run("converts corner box to center", func(t *testing.T) {
		line := []byte(`{"faces":[{"x":0.2,"y":0.1,"w":0.4,"h":0.6,"score":0.92}]}`)

		result, err := parseServiceResponse(line, 0.3)
		if err != nil {
			t.Fatalf("parseServiceResponse() error = %v", err)
		}
		if !result.Present() {
			t.Fatal("expected a face")
		}
		if math.Abs(result.Face.X-0.4) > epsilon || math.Abs(result.Face.Y-0.4) > epsilon {
			t.Errorf("center = (%f, %f), want (0.4, 0.4)", result.Face.X, result.Face.Y)
		}
		if result.Face.Confidence != 0.92 {
			t.Errorf("confidence = %f, want 0.92", result.Face.Confidence)
		}
	})

	t.Run("drops faces below backend minimum", func(t *testing.T) {
		line := []byte(`{"faces":[{"x":0.2,"y":0.1,"w":0.4,"h":0.6,"score":0.1}]}`)

		result, err := parseServiceResponse(line, 0.3)
		if err != nil {
			t.Fatalf("parseServiceResponse() error = %v", err)
		}
		if result.Present() {
			t.Error("expected weak face to be dropped")
		}
	})

	t.Run("no faces", func(t *testing.T) {
		result, err := parseServiceResponse([]byte(`{"faces":[]}`), 0)
		if err != nil || result.Present() {
			t.Errorf("parseServiceResponse() = %+v, %v", result, err)
		}
	})

	t.Run("service error", func(t *testing.T) {
		if _, err := parseServiceResponse([]byte(`{"error":"model not loaded"}`), 0); err == nil {
			t.Error("expected error for service error response")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := parseServiceResponse([]byte(`{nope`), 0); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

// nopWriteCloser wraps a bytes.Buffer so it can stand in for the stdin pipe.
type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func TestServiceDetector_Protocol(t *testing.T) {
	stdin := nopWriteCloser{Buffer: new(bytes.Buffer)}
	stdout := bufio.NewReader(strings.NewReader(`{"faces":[{"x":0.3,"y":0.3,"w":0.4,"h":0.4,"score":0.8}]}` + "\n"))

	d := &ServiceDetector{
		config: Config{MinConfidence: 0.3},
		proc:   &serviceProcess{stdin: stdin, stdout: stdout},
	}
	defer d.Close()

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	result, err := d.Detect(frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !result.Present() || math.Abs(result.Face.X-0.5) > epsilon {
		t.Errorf("Detect() = %+v, want centered face", result)
	}

	written := stdin.Bytes()
	if len(written) != 4+len(frame) {
		t.Fatalf("wrote %d bytes, want %d", len(written), 4+len(frame))
	}
	if n := binary.BigEndian.Uint32(written[:4]); int(n) != len(frame) {
		t.Errorf("length prefix = %d, want %d", n, len(frame))
	}
	if !bytes.Equal(written[4:], frame) {
		t.Error("frame bytes not forwarded unchanged")
	}
}

func TestServiceDetector_BrokenStreamStopsProcess(t *testing.T) {
	d := &ServiceDetector{
		proc: &serviceProcess{
			stdin:  nopWriteCloser{Buffer: new(bytes.Buffer)},
			stdout: bufio.NewReader(strings.NewReader("")),
		},
	}

	if _, err := d.Detect([]byte{0xFF, 0xD8}); err == nil {
		t.Fatal("expected error when the service closes its output")
	}
	if d.proc != nil {
		t.Error("process should be dropped after a failed round trip")
	}
}

func TestServiceDetector_EmptyFrame(t *testing.T) {
	d := &ServiceDetector{}
	if _, err := d.Detect(nil); err == nil {
		t.Error("expected error for empty frame")
	}
	if d.proc != nil {
		t.Error("an empty frame must not start the service")
	}
}

func TestNewServiceDetector(t *testing.T) {
	script := filepath.Join(t.TempDir(), "face_service.py")
	if err := os.WriteFile(script, []byte("# stub\n"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	d, err := NewServiceDetector(Config{ScriptPath: script})
	if err != nil {
		t.Fatalf("NewServiceDetector() error = %v", err)
	}
	if d.script != script {
		t.Errorf("script = %q, want %q", d.script, script)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() before first Detect = %v", err)
	}
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	os.WriteFile(present, nil, 0644)

	if got := locate(filepath.Join(dir, "missing"), present); got != present {
		t.Errorf("locate() = %q, want %q", got, present)
	}
	if got := locate(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("locate() = %q, want empty", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("mock backend", func(t *testing.T) {
		d, err := New(BackendMock, DefaultConfig())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := d.(*MockDetector); !ok {
			t.Errorf("New(mock) = %T, want *MockDetector", d)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := New("haar", DefaultConfig()); err == nil {
			t.Error("expected error for unknown backend")
		}
	})

	t.Run("yunet without model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ModelPath = "/nonexistent/model.onnx"
		if _, err := New(BackendYuNet, cfg); err == nil {
			t.Error("expected error for missing model")
		}
	})
}
