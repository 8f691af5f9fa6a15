// Package testutil builds synthetic frames for tests that exercise the
// capture pipeline without a camera.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/ayusman/posecapture/internal/capture"
)

// SolidJPEG encodes a w x h image filled with c.
func SolidJPEG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// GrayFrame returns a small mid-gray JPEG frame.
func GrayFrame(t testing.TB) []byte {
	return SolidJPEG(t, 64, 48, color.Gray{Y: 128})
}

// Frames returns n distinct capture frames spaced interval apart starting at start.
// Each frame's brightness differs so captured images can be told apart.
func Frames(t testing.TB, n int, start time.Time, interval time.Duration) []capture.Frame {
	t.Helper()

	frames := make([]capture.Frame, 0, n)
	for i := 0; i < n; i++ {
		level := uint8(20 + (i*37)%200)
		frames = append(frames, capture.Frame{
			Data:      SolidJPEG(t, 64, 48, color.Gray{Y: level}),
			Timestamp: start.Add(time.Duration(i) * interval),
			Width:     64,
			Height:    48,
		})
	}
	return frames
}
