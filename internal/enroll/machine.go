// Package enroll implements the pose-by-pose capture session: the state
// machine that walks a pose sequence, the store holding one image per pose,
// and the events it reports along the way.
package enroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/posecapture/internal/pose"
)

var (
	// ErrNotIdle is returned by Start when the machine is not Idle.
	ErrNotIdle = errors.New("session machine is not idle")
	// ErrIncomplete is returned when the last pose was captured but the
	// stored poses do not cover the sequence.
	ErrIncomplete = errors.New("captured poses do not cover the sequence")
)

// State is the phase of a capture session.
type State int

const (
	StateIdle State = iota
	StateAwaitingPose
	StateCooldown
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPose:
		return "awaiting_pose"
	case StateCooldown:
		return "cooldown"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether frames can still change the session.
func (s State) Active() bool {
	return s == StateAwaitingPose || s == StateCooldown
}

// Outcome says what OnFrame did with a frame.
type Outcome int

const (
	// OutcomeInactive: no session is running, nothing changed.
	OutcomeInactive Outcome = iota
	// OutcomeRejected: the gate rejected the frame while awaiting a pose.
	OutcomeRejected
	// OutcomeIgnored: the frame arrived during cooldown.
	OutcomeIgnored
	// OutcomeCaptured: the frame was stored and a cooldown started.
	OutcomeCaptured
	// OutcomeAdvanced: the cooldown elapsed and the cursor moved to the next pose.
	OutcomeAdvanced
	// OutcomeCompleted: the frame filled the last pose.
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeCaptured:
		return "captured"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Machine walks a pose sequence. It is not safe for concurrent use.
type Machine struct {
	seq      *pose.Sequence
	cooldown time.Duration
	store    *CaptureStore
	notify   Notifier

	state     State
	index     int
	until     time.Time
	sessionID string
	startedAt time.Time
}

// NewMachine returns an Idle machine over seq. A nil notifier discards events.
func NewMachine(seq *pose.Sequence, cooldown time.Duration, notify Notifier) *Machine {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Machine{
		seq:      seq,
		cooldown: cooldown,
		store:    NewCaptureStore(),
		notify:   notify,
	}
}

// Start moves Idle to AwaitingPose(0).
func (m *Machine) Start(sessionID string, now time.Time) error {
	if m.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, m.state)
	}
	if m.seq == nil || m.seq.Len() == 0 {
		return pose.ErrEmptySequence
	}

	m.store.Clear()
	m.sessionID = sessionID
	m.startedAt = now
	m.index = 0
	m.until = time.Time{}
	m.state = StateAwaitingPose

	m.emit(EventSessionStarted, now, "")
	return nil
}

// OnFrame feeds one detection-evaluated frame to the machine. accepted is the
// gate's verdict for frame. An invariant violation aborts the session and is
// returned as the error.
func (m *Machine) OnFrame(now time.Time, frame []byte, accepted bool) (Outcome, error) {
	switch m.state {
	case StateAwaitingPose:
		if !accepted {
			return OutcomeRejected, nil
		}
		return m.capture(now, frame)

	case StateCooldown:
		if now.Before(m.until) {
			return OutcomeIgnored, nil
		}
		if m.seq.IsLast(m.index) {
			return m.violate(now, fmt.Errorf("%w: cooldown after last pose %d", pose.ErrIndexOutOfRange, m.index))
		}
		m.index++
		m.until = time.Time{}
		m.state = StateAwaitingPose
		m.emit(EventPoseAdvanced, now, "")
		return OutcomeAdvanced, nil

	default:
		return OutcomeInactive, nil
	}
}

func (m *Machine) capture(now time.Time, frame []byte) (Outcome, error) {
	p, err := m.seq.At(m.index)
	if err != nil {
		return m.violate(now, err)
	}

	img := CapturedImage{
		Pose:       p,
		Data:       append([]byte(nil), frame...),
		CapturedAt: now,
	}
	if err := m.store.Put(img); err != nil {
		return m.violate(now, err)
	}
	m.emit(EventPoseCaptured, now, "")

	if !m.seq.IsLast(m.index) {
		m.until = now.Add(m.cooldown)
		m.state = StateCooldown
		return OutcomeCaptured, nil
	}

	if !m.store.IsComplete(m.seq) {
		return m.violate(now, ErrIncomplete)
	}

	// Sinks have finished by the time observers see SessionCompleted.
	m.state = StateCompleted
	m.notify.Deliver(Completion{
		SessionID:   m.sessionID,
		Sequence:    m.seq.Poses(),
		Images:      m.store.Images(),
		StartedAt:   m.startedAt,
		CompletedAt: now,
	})
	m.emit(EventSessionCompleted, now, "")
	return OutcomeCompleted, nil
}

func (m *Machine) violate(now time.Time, err error) (Outcome, error) {
	m.Abort(now, ReasonInvariantViolation)
	return OutcomeInactive, err
}

// Abort moves Idle or an active session to Aborted and reports whether the
// state changed. Completed and Aborted are terminal: a delivered session is
// never reported as aborted afterwards.
func (m *Machine) Abort(now time.Time, reason Reason) bool {
	if m.state == StateAborted || m.state == StateCompleted {
		return false
	}
	m.state = StateAborted
	m.until = time.Time{}
	m.emit(EventSessionAborted, now, reason)
	return true
}

// Reset returns to Idle from any state and discards captured images.
func (m *Machine) Reset(now time.Time) {
	id := m.sessionID
	m.store.Clear()
	m.state = StateIdle
	m.index = 0
	m.until = time.Time{}
	m.sessionID = ""
	m.startedAt = time.Time{}

	m.notify.Emit(Event{
		Type:      EventSessionReset,
		SessionID: id,
		Total:     m.seq.Len(),
		Time:      now,
	})
}

func (m *Machine) emit(t EventType, now time.Time, reason Reason) {
	e := Event{
		Type:      t,
		SessionID: m.sessionID,
		Index:     m.index,
		Total:     m.seq.Len(),
		Captured:  m.store.Len(),
		Reason:    reason,
		Time:      now,
	}
	if p, err := m.seq.At(m.index); err == nil {
		e.Pose = p
	}
	m.notify.Emit(e)
}

// State returns the current phase.
func (m *Machine) State() State { return m.state }

// Index returns the cursor into the sequence.
func (m *Machine) Index() int { return m.index }

// CooldownUntil returns the cooldown deadline, zero outside Cooldown.
func (m *Machine) CooldownUntil() time.Time { return m.until }

// SessionID returns the id passed to Start, empty when Idle.
func (m *Machine) SessionID() string { return m.sessionID }

// StartedAt returns when the current session started.
func (m *Machine) StartedAt() time.Time { return m.startedAt }

// Sequence returns the pose sequence the machine walks.
func (m *Machine) Sequence() *pose.Sequence { return m.seq }

// CurrentPose returns the pose at the cursor while a session is active.
func (m *Machine) CurrentPose() (pose.Pose, bool) {
	if !m.state.Active() {
		return "", false
	}
	p, err := m.seq.At(m.index)
	if err != nil {
		return "", false
	}
	return p, true
}

// Captured returns the images stored so far in capture order.
func (m *Machine) Captured() []CapturedImage {
	return m.store.Images()
}

// CapturedPoses returns the poses stored so far in capture order.
func (m *Machine) CapturedPoses() []pose.Pose {
	return m.store.Poses()
}
