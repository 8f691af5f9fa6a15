package store

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/enroll"
)

// Sink persists completed sessions as enrollments.
type Sink struct {
	repo *EnrollmentRepository
}

// NewSink returns a Sink writing to s.
func NewSink(s *Store) *Sink {
	return &Sink{repo: s.Enrollments()}
}

// OnComplete stores the completion and its images atomically.
func (k *Sink) OnComplete(c enroll.Completion) error {
	e := &Enrollment{
		ID:          c.SessionID,
		Poses:       c.Sequence,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}

	captures := make([]Capture, len(c.Images))
	for i, img := range c.Images {
		captures[i] = Capture{
			Pose:       img.Pose,
			Sequence:   i,
			Data:       img.Data,
			CapturedAt: img.CapturedAt,
		}
	}

	if err := k.repo.Create(e, captures); err != nil {
		return fmt.Errorf("persist enrollment %s: %w", c.SessionID, err)
	}

	log.WithFields(log.Fields{
		"enrollment": e.ID,
		"captures":   len(captures),
	}).Info("enrollment saved")
	return nil
}
