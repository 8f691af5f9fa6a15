package detector

import (
	"sync"
	"time"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	result Result
	err    error
	delay  time.Duration
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector that reports no face.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResult sets the result that will be returned by Detect.
func (m *MockDetector) SetResult(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
}

// SetFace makes Detect report a face at the frame center with the given confidence.
func (m *MockDetector) SetFace(confidence float64) {
	m.SetResult(FaceResult(confidence))
}

// SetNoFace makes Detect report that no face is visible.
func (m *MockDetector) SetNoFace() {
	m.SetResult(Result{})
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every Detect call block for d, simulating a slow backend.
func (m *MockDetector) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Detect returns the pre-configured result or error.
func (m *MockDetector) Detect(frame []byte) (Result, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	result, err := m.result, m.err
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FaceResult returns a Result with a centered, frame-filling face.
func FaceResult(confidence float64) Result {
	return Result{Face: &Face{X: 0.5, Y: 0.5, W: 0.4, H: 0.5, Confidence: confidence}}
}
