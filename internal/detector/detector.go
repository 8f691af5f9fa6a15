// Package detector provides face detection interfaces, backends and the gate
// that decides whether a detection is good enough to capture.
package detector

import "fmt"

// Backend names accepted by New.
const (
	BackendYuNet   = "yunet"
	BackendService = "service"
	BackendMock    = "mock"
)

// Detector defines the interface for face detection implementations.
type Detector interface {
	// Detect analyzes a JPEG-encoded frame and returns the most relevant face.
	// A Result with a nil Face means no face was visible.
	Detect(frame []byte) (Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Face is a single detected face. X and Y are the center of the bounding box
// and W and H its size, all normalized to [0,1] of the frame.
type Face struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Area returns the normalized area of the bounding box.
func (f Face) Area() float64 {
	return f.W * f.H
}

// Result is the output of one detector invocation for one frame.
type Result struct {
	Face *Face `json:"face,omitempty"`
}

// Present reports whether a face was detected.
func (r Result) Present() bool {
	return r.Face != nil
}

// Confidence returns the detection confidence, or 0 when no face is present.
func (r Result) Confidence() float64 {
	if r.Face == nil {
		return 0
	}
	return r.Face.Confidence
}

// Config holds configuration options for face detection backends.
type Config struct {
	// ModelPath is the path to the YuNet ONNX model.
	ModelPath string

	// ScriptPath is the path to the face detection service script.
	ScriptPath string

	// MinConfidence is the score below which a backend discards raw detections (0.0-1.0).
	// It is a backend prefilter; capture decisions use the gate threshold.
	MinConfidence float64

	// InputWidth and InputHeight are the initial model input size.
	InputWidth  int
	InputHeight int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath:     "models/face_detection_yunet.onnx",
		MinConfidence: 0.3,
		InputWidth:    320,
		InputHeight:   320,
	}
}

// SelectBest picks the face the capture logic should evaluate when a backend
// reports several. Faces are scored by confidence*0.7 + relative area*0.3 so the
// enrolling subject, usually nearest the camera, wins over bystanders.
func SelectBest(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}

	if len(faces) == 1 {
		f := faces[0]
		return &f
	}

	maxArea := 0.0
	for _, f := range faces {
		if f.Area() > maxArea {
			maxArea = f.Area()
		}
	}

	bestScore := -1.0
	best := 0
	for i, f := range faces {
		areaScore := 0.0
		if maxArea > 0 {
			areaScore = f.Area() / maxArea
		}
		score := f.Confidence*0.7 + areaScore*0.3
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	f := faces[best]
	return &f
}

// New builds the detector for the named backend.
func New(backend string, config Config) (Detector, error) {
	switch backend {
	case BackendYuNet, "":
		return NewYuNetDetector(config)
	case BackendService:
		return NewServiceDetector(config)
	case BackendMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", backend)
	}
}
