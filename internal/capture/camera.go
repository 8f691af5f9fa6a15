// Package capture provides the frame source for capture sessions using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	ErrReadFailed    = errors.New("failed to read frame from camera")
	ErrEmptyFrame    = errors.New("captured frame is empty")
)

// Frame is one JPEG-encoded video frame with the time it was read.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Width     int
	Height    int
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Camera is a source of timestamped JPEG frames.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (Frame, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// DeviceConfig selects a capture device and the resolution requested from it.
// Zero Width or Height uses the defaults.
type DeviceConfig struct {
	ID     int
	Width  int
	Height int
}

// deviceCamera reads frames from a local capture device through GoCV.
type deviceCamera struct {
	config DeviceConfig

	mu      sync.Mutex
	capture *gocv.VideoCapture
	fps     int
}

// NewCamera returns a Camera for the device described by config. The device
// is not opened until Open.
func NewCamera(config DeviceConfig) Camera {
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	return &deviceCamera{config: config, fps: DefaultFPS}
}

func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.config.ID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.config.ID, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = vc
	return nil
}

func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

// ReadFrame grabs one frame and encodes it as JPEG. The timestamp is taken
// right after the grab, before encoding.
func (c *deviceCamera) ReadFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return Frame{}, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if !c.capture.Read(&mat) {
		return Frame{}, ErrReadFailed
	}
	grabbed := time.Now()
	if mat.Empty() {
		return Frame{}, ErrEmptyFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that is released with buf.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return Frame{
		Data:      data,
		Timestamp: grabbed,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
	}, nil
}

// SetFPS changes the requested frame rate. Non-positive values are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *deviceCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
