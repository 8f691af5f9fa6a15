package plugin

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/enroll"
)

// Sink delivers completed sessions to every hook subscribed to
// session_completed. Hooks run one after another.
type Sink struct {
	manager  *Manager
	executor *Executor
}

// NewSink creates a Sink over the hooks known to manager.
func NewSink(manager *Manager, executor *Executor) *Sink {
	return &Sink{manager: manager, executor: executor}
}

// NewRequest builds the hook request for a completed session.
func NewRequest(c enroll.Completion) *Request {
	session := SessionPayload{
		ID:          c.SessionID,
		Poses:       make([]string, 0, len(c.Sequence)),
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		Images:      make([]ImagePayload, 0, len(c.Images)),
	}
	for _, p := range c.Sequence {
		session.Poses = append(session.Poses, string(p))
	}
	for _, img := range c.Images {
		session.Images = append(session.Images, ImagePayload{
			Pose:       string(img.Pose),
			CapturedAt: img.CapturedAt,
			Data:       img.Data,
		})
	}
	return &Request{
		Event:   string(enroll.EventSessionCompleted),
		Session: session,
	}
}

// OnComplete implements enroll.Sink. Every subscribed hook runs even when an
// earlier one fails; the failures are joined.
func (s *Sink) OnComplete(c enroll.Completion) error {
	hooks := s.manager.Subscribed(string(enroll.EventSessionCompleted))
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, h := range hooks {
		req := NewRequest(c)
		resp, err := s.executor.Execute(context.Background(), h, req)
		if err == nil && !resp.Success {
			err = fmt.Errorf("hook %s reported failure: %s", h.Manifest.Name, resp.Error)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log.WithFields(log.Fields{
			"hook":    h.Manifest.Name,
			"session": c.SessionID,
		}).Info("hook delivered")
	}
	return errors.Join(errs...)
}
