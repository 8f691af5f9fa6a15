package capture

import (
	"fmt"
	"sync"
	"time"
)

// MockCamera plays back pre-recorded frames for testing.
// Each returned frame is stamped with the time it was read unless the
// recorded frame already carries a timestamp.
type MockCamera struct {
	frames  []Frame
	index   int
	loop    bool
	fps     int
	opens   int
	mu      sync.Mutex
	running bool
	openErr error
	readErr error
}

// NewMockCamera creates a MockCamera over the given frames.
func NewMockCamera(frames []Frame, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

// NewStillCamera returns a looping MockCamera that always yields data.
func NewStillCamera(data []byte) *MockCamera {
	return NewMockCamera([]Frame{{Data: data, Width: DefaultWidth, Height: DefaultHeight}}, true)
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	c.opens++
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return Frame{}, ErrCameraNotOpen
	}

	if c.readErr != nil {
		return Frame{}, c.readErr
	}

	if len(c.frames) == 0 {
		return Frame{}, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return Frame{}, fmt.Errorf("no more frames")
		}
	}

	frame := c.frames[c.index]
	frame.Data = append([]byte(nil), frame.Data...)
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	c.index++

	return frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Opens returns how many times the camera has been opened.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// SetOpenError makes subsequent Open calls fail with err.
func (c *MockCamera) SetOpenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// SetReadError makes subsequent ReadFrame calls fail with err; nil restores playback.
func (c *MockCamera) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
