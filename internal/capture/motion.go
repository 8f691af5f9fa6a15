package capture

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MotionDetector measures how much consecutive frames differ. The session
// pipeline uses it to skip frames taken while the subject is still moving,
// so stored stills are not blurred.
type MotionDetector struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

const (
	blurKernel = 21 // odd, in pixels
	pixelDelta = 25 // grey-level change that counts a pixel as moved
)

// NewMotionDetector creates a MotionDetector. The threshold is the percentage
// of pixels that must change between frames to count as motion; 1.0 means 1%.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect decodes a JPEG frame and compares it with the previous one.
// It returns whether motion exceeded the threshold and the changed-pixel percentage.
// The first frame after construction or Reset only establishes the baseline.
func (m *MotionDetector) Detect(frame []byte) (bool, float64, error) {
	if len(frame) == 0 {
		return false, 0, fmt.Errorf("empty frame")
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return false, 0, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return false, 0, fmt.Errorf("decode frame: empty image")
	}

	moving, percent := m.detectMat(img)
	return moving, percent, nil
}

func (m *MotionDetector) detectMat(frame gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := smoothGray(frame)
	defer current.Close()

	// A resolution change invalidates the baseline.
	if !m.initialized || m.prevGray.Rows() != current.Rows() || m.prevGray.Cols() != current.Cols() {
		current.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	percent := changedPercent(current, m.prevGray)
	current.CopyTo(&m.prevGray)
	return percent > m.threshold, percent
}

// smoothGray returns a blurred single-channel copy of frame. The caller closes it.
func smoothGray(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	out := gocv.NewMat()
	gocv.GaussianBlur(gray, &out, image.Point{X: blurKernel, Y: blurKernel}, 0, 0, gocv.BorderDefault)
	return out
}

// changedPercent is the share of pixels, 0-100, whose level differs by more
// than pixelDelta between a and b.
func changedPercent(a, b gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, pixelDelta, 255, gocv.ThresholdBinary)

	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total) * 100
}

// Reset drops the baseline so the next frame starts a new comparison.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// Close releases resources used by the motion detector.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

func (m *MotionDetector) release() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// SetThreshold sets the motion detection threshold.
// Values less than or equal to 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}

// Threshold returns the current motion threshold percentage.
func (m *MotionDetector) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}
