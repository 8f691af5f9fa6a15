package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	mu       sync.Mutex // Protects inference
}

// NewYuNetDetector creates a YuNet detector from the ONNX model in config.ModelPath.
func NewYuNetDetector(config Config) (*YuNetDetector, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	// Input size is updated per frame in Detect.
	detector := gocv.NewFaceDetectorYNWithParams(
		config.ModelPath,
		"",
		image.Pt(config.InputWidth, config.InputHeight),
		float32(config.MinConfidence),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{
		detector: detector,
		config:   config,
	}, nil
}

// Detect decodes the JPEG frame and returns the best face found in it.
func (d *YuNetDetector) Detect(frame []byte) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return Result{}, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return Result{}, fmt.Errorf("empty frame")
	}

	imgW := float64(img.Cols())
	imgH := float64(img.Rows())

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	out := gocv.NewMat()
	defer out.Close()

	d.detector.Detect(img, &out)

	// Each row: x, y, w, h (pixels), 5 landmark pairs, score.
	faces := make([]Face, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		x := float64(out.GetFloatAt(r, 0))
		y := float64(out.GetFloatAt(r, 1))
		w := float64(out.GetFloatAt(r, 2))
		h := float64(out.GetFloatAt(r, 3))
		score := float64(out.GetFloatAt(r, 14))

		faces = append(faces, Face{
			X:          clamp01((x + w/2) / imgW),
			Y:          clamp01((y + h/2) / imgH),
			W:          clamp01(w / imgW),
			H:          clamp01(h / imgH),
			Confidence: score,
		})
	}

	return Result{Face: SelectBest(faces)}, nil
}

// Close releases the underlying OpenCV detector.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
