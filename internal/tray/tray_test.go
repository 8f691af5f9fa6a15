package tray

import (
	"testing"

	"github.com/ayusman/posecapture/internal/enroll"
	"github.com/ayusman/posecapture/internal/pose"
)

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name  string
		event enroll.Event
		want  string
	}{
		{"idle", enroll.Event{Type: enroll.EventSessionReset}, "Idle"},
		{"started", enroll.Event{Type: enroll.EventSessionStarted, Index: 0, Total: 5}, "Capturing 1/5"},
		{"advanced", enroll.Event{Type: enroll.EventPoseAdvanced, Index: 2, Total: 5}, "Capturing 3/5"},
		{"captured", enroll.Event{Type: enroll.EventPoseCaptured, Captured: 3, Total: 5}, "Captured 3/5"},
		{"completed", enroll.Event{Type: enroll.EventSessionCompleted, Captured: 5, Total: 5}, "Completed 5/5"},
		{"aborted", enroll.Event{Type: enroll.EventSessionAborted, Reason: enroll.ReasonDetectorFailure}, "Aborted: detector_failure"},
		{"aborted without reason", enroll.Event{Type: enroll.EventSessionAborted}, "Aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusLine(tt.event); got != tt.want {
				t.Errorf("StatusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPoseLine(t *testing.T) {
	tests := []struct {
		name  string
		event enroll.Event
		want  string
	}{
		{"awaiting", enroll.Event{Type: enroll.EventPoseAdvanced, Pose: pose.Left, Total: 5}, "Look: left"},
		{"cooldown", enroll.Event{Type: enroll.EventPoseCaptured, Captured: 1, Total: 5}, "Hold still..."},
		{"last capture", enroll.Event{Type: enroll.EventPoseCaptured, Captured: 5, Total: 5}, "Pose: none"},
		{"idle", enroll.Event{Type: enroll.EventSessionReset}, "Pose: none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PoseLine(tt.event); got != tt.want {
				t.Errorf("PoseLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTray_OnEventBeforeReady(t *testing.T) {
	tr := New()
	if tr.Active() {
		t.Error("new tray should be inactive")
	}

	// Menu items do not exist until Run; events must still be tracked.
	tr.OnEvent(enroll.Event{Type: enroll.EventSessionStarted, Total: 5, Pose: pose.Center})
	if !tr.Active() {
		t.Error("tray should be active after session_started")
	}

	tr.OnEvent(enroll.Event{Type: enroll.EventSessionCompleted, Captured: 5, Total: 5})
	if tr.Active() {
		t.Error("tray should be inactive after session_completed")
	}
}

func TestTray_Callbacks(t *testing.T) {
	tr := New()

	var started, aborted int
	tr.OnStart(func() { started++ })
	tr.OnAbort(func() { aborted++ })

	tr.invoke(func() func() { return tr.onStart })
	tr.invoke(func() func() { return tr.onAbort })
	tr.invoke(func() func() { return tr.onAbort })
	tr.invoke(func() func() { return tr.onPreview })

	if started != 1 || aborted != 2 {
		t.Errorf("started=%d aborted=%d, want 1 and 2", started, aborted)
	}
}

func TestTray_ImplementsObserver(t *testing.T) {
	var _ enroll.Observer = New()
}
