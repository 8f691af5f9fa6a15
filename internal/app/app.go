// Package app runs pose capture sessions: it owns the camera pipeline, feeds
// frames through the face detector and gate, and drives the session machine.
package app

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/capture"
	"github.com/ayusman/posecapture/internal/detector"
	"github.com/ayusman/posecapture/internal/enroll"
	"github.com/ayusman/posecapture/internal/pose"
)

var (
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("a capture session is already active")
	// ErrNoSession is returned when an operation needs a session and none exists.
	ErrNoSession = errors.New("no capture session")
	// ErrInvalidConfig is returned for out-of-range session parameters.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller is closed")
)

// Defaults used when Config leaves a field zero.
const (
	DefaultCooldown            = time.Second
	DefaultMaxDetectorFailures = 30
	DefaultMaxSourceFailures   = 30
)

// Clock reads the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SessionConfig parameterises one session.
type SessionConfig struct {
	Poses     []pose.Pose
	Threshold float64
	Cooldown  time.Duration
}

// DefaultSessionConfig returns the five-pose sequence with the default gate and cooldown.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Poses:     pose.DefaultSequence().Poses(),
		Threshold: detector.DefaultThreshold,
		Cooldown:  DefaultCooldown,
	}
}

// Validate reports whether sc can start a session.
func (sc SessionConfig) Validate() error {
	_, err := sc.validate()
	return err
}

func (sc SessionConfig) validate() (*pose.Sequence, error) {
	seq, err := pose.NewSequence(sc.Poses...)
	if err != nil {
		return nil, err
	}
	if sc.Threshold < 0 || sc.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %.2f outside [0,1]", ErrInvalidConfig, sc.Threshold)
	}
	if sc.Cooldown <= 0 {
		return nil, fmt.Errorf("%w: cooldown %s must be positive", ErrInvalidConfig, sc.Cooldown)
	}
	return seq, nil
}

// Config holds the controller's collaborators and limits.
type Config struct {
	// Camera is the frame source. Nil opens the capture device described by Device.
	Camera capture.Camera
	Device capture.DeviceConfig
	// Detector defaults to a MockDetector that never sees a face.
	Detector detector.Detector
	Clock    Clock
	// FPS is the pipeline frame rate; zero keeps the camera's default.
	FPS                 int
	MaxDetectorFailures int
	MaxSourceFailures   int
	// MotionThreshold enables the motion prefilter when positive.
	MotionThreshold float64
}

// Status is a snapshot of the controller for display.
type Status struct {
	SessionID     string        `json:"session_id,omitempty"`
	State         string        `json:"state"`
	Pose          pose.Pose     `json:"pose,omitempty"`
	Index         int           `json:"index"`
	Total         int           `json:"total"`
	Sequence      []pose.Pose   `json:"sequence,omitempty"`
	Captured      []pose.Pose   `json:"captured"`
	Threshold     float64       `json:"threshold"`
	CooldownMs    int64         `json:"cooldown_ms"`
	CooldownUntil *time.Time    `json:"cooldown_until,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	Reason        enroll.Reason `json:"reason,omitempty"`
	Running       bool          `json:"running"`
}

// Controller coordinates capture sessions. All machine mutations happen under
// mu; observers and sinks run after it is released.
type Controller struct {
	config     Config
	camera     capture.Camera
	motion     *capture.MotionDetector
	clock      Clock
	dispatcher *enroll.Dispatcher
	outbox     *outbox

	mu         sync.Mutex
	detector   detector.Detector
	machine    *enroll.Machine
	session    SessionConfig
	generation uint64
	reason     enroll.Reason
	detFails   int
	pipe       *pipeline
	closed     bool

	inFlight atomic.Bool
	workers  sync.WaitGroup

	frameMu sync.RWMutex
	latest  capture.Frame
}

// New creates a Controller. No camera is opened until Start.
func New(config Config) *Controller {
	if config.MaxDetectorFailures <= 0 {
		config.MaxDetectorFailures = DefaultMaxDetectorFailures
	}
	if config.MaxSourceFailures <= 0 {
		config.MaxSourceFailures = DefaultMaxSourceFailures
	}

	c := &Controller{
		config:     config,
		camera:     config.Camera,
		clock:      config.Clock,
		detector:   config.Detector,
		dispatcher: enroll.NewDispatcher(),
		outbox:     newOutbox(),
	}

	if c.camera == nil {
		c.camera = capture.NewCamera(config.Device)
	}
	if config.FPS > 0 {
		c.camera.SetFPS(config.FPS)
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.detector == nil {
		c.detector = detector.NewMockDetector()
	}
	if config.MotionThreshold > 0 {
		c.motion = capture.NewMotionDetector(config.MotionThreshold)
	}

	return c
}

// AddObserver registers an observer for session events.
func (c *Controller) AddObserver(o enroll.Observer) {
	c.dispatcher.AddObserver(o)
}

// AddSink registers a sink for completed sessions.
func (c *Controller) AddSink(s enroll.Sink) {
	c.dispatcher.AddSink(s)
}

// SetDetector replaces the face detector used for subsequent frames.
func (c *Controller) SetDetector(d detector.Detector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detector = d
}

// Detector returns the current face detector.
func (c *Controller) Detector() detector.Detector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detector
}

// Camera returns the frame source.
func (c *Controller) Camera() capture.Camera {
	return c.camera
}

// Start begins a new session and the camera pipeline feeding it. A Completed
// or Aborted session is discarded first.
func (c *Controller) Start(sc SessionConfig) (string, error) {
	seq, err := sc.validate()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if err := c.checkStartableLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	prev := c.pipe
	c.pipe = nil
	c.mu.Unlock()

	// The previous pipeline owns the camera until it exits.
	if prev != nil {
		prev.stop()
		<-prev.done
	}

	c.mu.Lock()
	defer c.unlock()

	if err := c.checkStartableLocked(); err != nil {
		return "", err
	}

	now := c.clock.Now()
	if c.machine != nil {
		c.machine.Reset(now)
	}
	c.generation++

	id := uuid.New().String()
	machine := enroll.NewMachine(seq, sc.Cooldown, c.outbox)
	if err := machine.Start(id, now); err != nil {
		return "", err
	}

	c.machine = machine
	c.session = sc
	c.reason = ""
	c.detFails = 0

	if c.motion != nil {
		c.motion.Reset()
	}

	p, err := c.startPipelineLocked(c.generation)
	if err != nil {
		c.machine.Abort(now, enroll.ReasonSourceFailure)
		c.reason = enroll.ReasonSourceFailure
		return "", fmt.Errorf("open camera: %w", err)
	}
	c.pipe = p

	log.WithFields(log.Fields{
		"session":   id,
		"poses":     seq.String(),
		"threshold": sc.Threshold,
		"cooldown":  sc.Cooldown,
	}).Info("capture session started")

	return id, nil
}

// unlock releases mu, then sends whatever the machine reported while it was
// held. The caller returns only after its own batch has been delivered.
func (c *Controller) unlock() {
	batch, ticket := c.outbox.take()
	c.mu.Unlock()
	if batch != nil {
		c.outbox.flush(c.dispatcher, batch, ticket)
	}
}

func (c *Controller) checkStartableLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.machine != nil && c.machine.State().Active() {
		return ErrAlreadyActive
	}
	return nil
}

// Abort ends the running session with ReasonUserAbort. Detections still in
// flight are discarded. A Completed session keeps its result and emits nothing.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.unlock()

	if c.machine == nil {
		return ErrNoSession
	}
	c.abortLocked(enroll.ReasonUserAbort)
	return nil
}

func (c *Controller) abortLocked(reason enroll.Reason) {
	if c.machine.Abort(c.clock.Now(), reason) {
		c.reason = reason
		log.WithFields(log.Fields{
			"session": c.machine.SessionID(),
			"reason":  reason,
		}).Warn("capture session aborted")
	}
	c.generation++
	c.stopPipelineLocked()
}

// abortGeneration aborts only if gen is still the current session.
func (c *Controller) abortGeneration(gen uint64, reason enroll.Reason) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.generation || c.machine == nil {
		return
	}
	c.abortLocked(reason)
}

// Reset discards the current session and returns to Idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.unlock()

	c.generation++
	c.reason = ""
	c.detFails = 0
	c.stopPipelineLocked()

	if c.machine != nil {
		c.machine.Reset(c.clock.Now())
	}
}

// Status returns a snapshot of the current session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      enroll.StateIdle.String(),
		Captured:   []pose.Pose{},
		Threshold:  c.session.Threshold,
		CooldownMs: c.session.Cooldown.Milliseconds(),
		Running:    c.pipe != nil && !c.pipe.stopped(),
	}
	if c.machine == nil {
		return st
	}

	m := c.machine
	st.SessionID = m.SessionID()
	st.State = m.State().String()
	st.Index = m.Index()
	st.Total = m.Sequence().Len()
	st.Sequence = m.Sequence().Poses()
	st.Captured = m.CapturedPoses()
	st.Reason = c.reason

	if p, ok := m.CurrentPose(); ok {
		st.Pose = p
	}
	if until := m.CooldownUntil(); !until.IsZero() {
		st.CooldownUntil = &until
	}
	if started := m.StartedAt(); !started.IsZero() {
		st.StartedAt = &started
	}
	return st
}

// LatestFrame returns the most recent frame read by the pipeline.
func (c *Controller) LatestFrame() (capture.Frame, bool) {
	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	return c.latest, !c.latest.Empty()
}

func (c *Controller) setLatest(f capture.Frame) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	c.latest = f
}

// Close stops the pipeline and releases the detector and motion filter.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	p := c.pipe
	c.pipe = nil
	det := c.detector
	c.mu.Unlock()

	if p != nil {
		p.stop()
		<-p.done
	}
	c.workers.Wait()

	if c.motion != nil {
		c.motion.Close()
	}

	var err error
	if det != nil {
		if cerr := det.Close(); cerr != nil {
			err = fmt.Errorf("close detector: %w", cerr)
		}
	}

	log.Info("capture controller stopped")
	return err
}
