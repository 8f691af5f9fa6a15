package app

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/capture"
	"github.com/ayusman/posecapture/internal/detector"
	"github.com/ayusman/posecapture/internal/enroll"
)

// pipeline is one run of the camera loop. It owns the camera from Open until
// done is closed.
type pipeline struct {
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (p *pipeline) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *pipeline) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (c *Controller) startPipelineLocked(gen uint64) (*pipeline, error) {
	if err := c.camera.Open(); err != nil {
		return nil, err
	}

	p := &pipeline{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.runPipeline(p, gen)
	return p, nil
}

// stopPipelineLocked signals the pipeline without waiting; it may be the
// caller's own goroutine tree.
func (c *Controller) stopPipelineLocked() {
	if c.pipe != nil {
		c.pipe.stop()
	}
}

// runPipeline reads frames at the camera's rate and hands each one to a
// detection worker. Frames that arrive while a detection is outstanding are
// dropped, so the detector is never pipelined.
//
// Pipeline logic:
// 1. Read a frame; count consecutive read failures toward a source abort
// 2. Publish it as the latest preview frame
// 3. Optionally skip it if the motion prefilter sees movement
// 4. If no detection is in flight, run OnFrame on a worker goroutine
func (c *Controller) runPipeline(p *pipeline, gen uint64) {
	defer close(p.done)
	defer func() {
		if err := c.camera.Close(); err != nil {
			log.WithError(err).Warn("error closing camera")
		}
	}()

	fps := c.camera.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	sourceFails := 0
	dropped := 0

	log.WithField("fps", fps).Debug("capture pipeline started")
	defer func() {
		log.WithField("dropped", dropped).Debug("capture pipeline stopped")
	}()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			frame, err := c.camera.ReadFrame()
			if err != nil {
				sourceFails++
				log.WithFields(log.Fields{
					"error":    err,
					"failures": sourceFails,
				}).Debug("frame read failed")
				if sourceFails >= c.config.MaxSourceFailures {
					c.abortGeneration(gen, enroll.ReasonSourceFailure)
					return
				}
				continue
			}
			sourceFails = 0
			c.setLatest(frame)

			if c.motion != nil {
				moving, change, err := c.motion.Detect(frame.Data)
				if err != nil {
					log.WithError(err).Debug("motion filter failed")
				} else if moving {
					log.WithField("change", change).Debug("skipping frame with motion")
					continue
				}
			}

			if c.inFlight.Load() {
				dropped++
				continue
			}

			c.workers.Add(1)
			go func(f capture.Frame) {
				defer c.workers.Done()
				c.OnFrame(f)
			}(frame)
		}
	}
}

// OnFrame runs one frame through the detector, the gate and the session
// machine. It returns false when the frame was dropped: a detection was
// already outstanding, no session was active, or the session changed while
// the frame was being evaluated.
func (c *Controller) OnFrame(frame capture.Frame) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	if c.machine == nil || !c.machine.State().Active() {
		c.mu.Unlock()
		return false
	}
	gen := c.generation
	det := c.detector
	threshold := c.session.Threshold
	c.mu.Unlock()

	result, detErr := det.Detect(frame.Data)

	c.mu.Lock()
	defer c.unlock()

	// Aborted or reset while detecting: the result belongs to a dead session.
	if gen != c.generation || !c.machine.State().Active() {
		return false
	}

	now := c.clock.Now()

	if detErr != nil {
		c.detFails++
		log.WithFields(log.Fields{
			"error":    detErr,
			"failures": c.detFails,
		}).Debug("face detection failed")
		if c.detFails >= c.config.MaxDetectorFailures {
			c.abortLocked(enroll.ReasonDetectorFailure)
			return true
		}
	} else {
		c.detFails = 0
	}

	accepted := detErr == nil && detector.Accepts(result, threshold)

	outcome, err := c.machine.OnFrame(now, frame.Data, accepted)
	if err != nil {
		c.reason = enroll.ReasonInvariantViolation
		c.generation++
		c.stopPipelineLocked()
		log.WithFields(log.Fields{
			"session": c.machine.SessionID(),
			"error":   err,
		}).Error("capture session invariant violated")
		return true
	}

	switch outcome {
	case enroll.OutcomeCaptured, enroll.OutcomeCompleted:
		log.WithFields(log.Fields{
			"session":    c.machine.SessionID(),
			"index":      c.machine.Index(),
			"confidence": result.Confidence(),
		}).Info("pose captured")
	case enroll.OutcomeAdvanced:
		p, _ := c.machine.CurrentPose()
		log.WithFields(log.Fields{
			"session": c.machine.SessionID(),
			"pose":    p,
		}).Debug("awaiting next pose")
	}

	if outcome == enroll.OutcomeCompleted {
		log.WithField("session", c.machine.SessionID()).Info("capture session completed")
		c.stopPipelineLocked()
	}

	return true
}
