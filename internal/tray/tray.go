// Package tray shows capture session progress in the system tray and lets the
// user start or abort a session from its menu.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/posecapture/internal/enroll"
)

// Tray is an enroll.Observer backed by a system tray menu.
type Tray struct {
	onStart   func()
	onAbort   func()
	onPreview func()
	onQuit    func()
	mu        sync.RWMutex

	last   enroll.Event
	active bool

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuPose   *systray.MenuItem
	menuStart  *systray.MenuItem
	menuAbort  *systray.MenuItem
}

// New creates a Tray showing an idle session.
func New() *Tray {
	return &Tray{
		last: enroll.Event{Type: enroll.EventSessionReset},
	}
}

// OnStart sets the callback for the Start Capture menu item.
func (t *Tray) OnStart(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = fn
}

// OnAbort sets the callback for the Abort Capture menu item.
func (t *Tray) OnAbort(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAbort = fn
}

// OnPreview sets the callback for the Open Preview menu item.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback to be called when Quit is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray. It blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Posecapture")
	systray.SetTooltip("Guided face capture")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem("", "Session state")
	t.menuStatus.Disable()
	t.menuPose = systray.AddMenuItem("", "Pose to hold")
	t.menuPose.Disable()
	systray.AddSeparator()

	t.menuStart = systray.AddMenuItem("Start Capture", "Start a new capture session")
	t.menuAbort = systray.AddMenuItem("Abort Capture", "Abort the running session")
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit posecapture")
	t.refreshLocked()
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.menuStart.ClickedCh:
				t.invoke(func() func() { return t.onStart })
			case <-t.menuAbort.ClickedCh:
				t.invoke(func() func() { return t.onAbort })
			case <-menuPreview.ClickedCh:
				t.invoke(func() func() { return t.onPreview })
			case <-menuQuit.ClickedCh:
				t.invoke(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// invoke runs the callback chosen by pick outside the lock.
func (t *Tray) invoke(pick func() func()) {
	t.mu.RLock()
	callback := pick()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// OnEvent implements enroll.Observer. It only updates menu titles.
func (t *Tray) OnEvent(e enroll.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = e
	switch e.Type {
	case enroll.EventSessionStarted, enroll.EventPoseCaptured, enroll.EventPoseAdvanced:
		t.active = true
	default:
		t.active = false
	}
	t.refreshLocked()
}

func (t *Tray) refreshLocked() {
	if t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(StatusLine(t.last))
	t.menuPose.SetTitle(PoseLine(t.last))
	if t.active {
		t.menuStart.Disable()
		t.menuAbort.Enable()
	} else {
		t.menuStart.Enable()
		t.menuAbort.Disable()
	}
}

// Active reports whether the last event left a session running.
func (t *Tray) Active() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// StatusLine renders the status menu title for e.
func StatusLine(e enroll.Event) string {
	switch e.Type {
	case enroll.EventSessionStarted, enroll.EventPoseAdvanced:
		return fmt.Sprintf("Capturing %d/%d", e.Index+1, e.Total)
	case enroll.EventPoseCaptured:
		return fmt.Sprintf("Captured %d/%d", e.Captured, e.Total)
	case enroll.EventSessionCompleted:
		return fmt.Sprintf("Completed %d/%d", e.Captured, e.Total)
	case enroll.EventSessionAborted:
		if e.Reason != "" {
			return "Aborted: " + string(e.Reason)
		}
		return "Aborted"
	default:
		return "Idle"
	}
}

// PoseLine renders the pose menu title for e.
func PoseLine(e enroll.Event) string {
	switch e.Type {
	case enroll.EventSessionStarted, enroll.EventPoseAdvanced:
		return "Look: " + string(e.Pose)
	case enroll.EventPoseCaptured:
		if e.Captured < e.Total {
			return "Hold still..."
		}
	}
	return "Pose: none"
}
