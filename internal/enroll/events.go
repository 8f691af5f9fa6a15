package enroll

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/pose"
)

// EventType names a session transition.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventPoseCaptured     EventType = "pose_captured"
	EventPoseAdvanced     EventType = "pose_advanced"
	EventSessionCompleted EventType = "session_completed"
	EventSessionAborted   EventType = "session_aborted"
	EventSessionReset     EventType = "session_reset"
)

// Reason explains why a session was aborted.
type Reason string

const (
	ReasonUserAbort          Reason = "user_abort"
	ReasonDetectorFailure    Reason = "detector_failure"
	ReasonSourceFailure      Reason = "source_failure"
	ReasonInvariantViolation Reason = "invariant_violation"
)

// Event is a progress notification. Pose and Index refer to the pose that was
// captured or that the session advanced to; Reason is set only on abort.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Pose      pose.Pose `json:"pose,omitempty"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Captured  int       `json:"captured"`
	Reason    Reason    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// Completion is the validated result of a finished session, one image per
// pose in sequence order.
type Completion struct {
	SessionID   string          `json:"session_id"`
	Sequence    []pose.Pose     `json:"sequence"`
	Images      []CapturedImage `json:"images"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Observer receives progress events in transition order, after the session
// controller has released its lock. Observers may read controller status but
// must not change the session from inside OnEvent.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Sink receives the image set of each completed session exactly once.
type Sink interface {
	OnComplete(Completion) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Completion) error

func (f SinkFunc) OnComplete(c Completion) error { return f(c) }

// Notifier is what the Machine reports to.
type Notifier interface {
	Emit(Event)
	Deliver(Completion)
}

// Dispatcher fans events out to observers and completions out to sinks.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	sinks     []Sink
}

// NewDispatcher returns a Dispatcher with no subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// AddObserver registers an observer.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// AddSink registers a completion sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Emit sends e to every observer in registration order.
func (d *Dispatcher) Emit(e Event) {
	d.mu.RLock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.RUnlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}

// Deliver hands c to every sink. A failing sink is logged and does not stop the others.
func (d *Dispatcher) Deliver(c Completion) {
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.OnComplete(c); err != nil {
			log.WithFields(log.Fields{
				"session": c.SessionID,
				"error":   err,
			}).Error("completion sink failed")
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Emit(Event)         {}
func (nopNotifier) Deliver(Completion) {}
