package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/posecapture/internal/config"
	"github.com/ayusman/posecapture/internal/enroll"
	"github.com/ayusman/posecapture/internal/pose"
)

// fakeToken is an already-completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. The embedded interface panics on anything
// the code under test should not call.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	messages   []message
	publishErr error
	connectErr error
	connected  bool
	opts       *mqtt.ClientOptions
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return newFakeToken(c.publishErr)
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return newFakeToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) published() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

func TestObserver_PublishesEventAndState(t *testing.T) {
	client := &fakeClient{}
	o := NewObserver(client, "lab/cam1", 1)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	o.OnEvent(enroll.Event{
		Type:      enroll.EventPoseCaptured,
		SessionID: "s1",
		Pose:      pose.Center,
		Index:     0,
		Total:     2,
		Captured:  1,
		Time:      now,
	})

	msgs := client.published()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}

	ev := msgs[0]
	if ev.topic != "lab/cam1/events" || ev.retained || ev.qos != 1 {
		t.Errorf("event message = %+v", ev)
	}
	var got enroll.Event
	if err := json.Unmarshal(ev.payload, &got); err != nil {
		t.Fatalf("event payload is not JSON: %v", err)
	}
	if got.Type != enroll.EventPoseCaptured || got.Pose != pose.Center {
		t.Errorf("event = %+v", got)
	}

	st := msgs[1]
	if st.topic != "lab/cam1/state" || !st.retained {
		t.Errorf("state message = %+v", st)
	}
	var state statePayload
	json.Unmarshal(st.payload, &state)
	if state.State != "cooldown" || state.Captured != 1 {
		t.Errorf("state = %+v", state)
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		name  string
		event enroll.Event
		want  string
	}{
		{"started", enroll.Event{Type: enroll.EventSessionStarted, Total: 5}, "awaiting_pose"},
		{"captured mid sequence", enroll.Event{Type: enroll.EventPoseCaptured, Captured: 2, Total: 5}, "cooldown"},
		{"captured last pose", enroll.Event{Type: enroll.EventPoseCaptured, Captured: 5, Total: 5}, "completed"},
		{"advanced", enroll.Event{Type: enroll.EventPoseAdvanced, Index: 3, Total: 5}, "awaiting_pose"},
		{"completed", enroll.Event{Type: enroll.EventSessionCompleted, Captured: 5, Total: 5}, "completed"},
		{"aborted", enroll.Event{Type: enroll.EventSessionAborted, Reason: enroll.ReasonUserAbort}, "aborted"},
		{"reset", enroll.Event{Type: enroll.EventSessionReset, Index: 2, Captured: 2, Pose: pose.Right}, "idle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stateFor(tt.event)
			if s.State != tt.want {
				t.Errorf("State = %q, want %q", s.State, tt.want)
			}
			if tt.event.Type == enroll.EventSessionReset && (s.Pose != "" || s.Captured != 0) {
				t.Errorf("reset state should be cleared, got %+v", s)
			}
		})
	}
}

func TestObserver_PublishErrorDoesNotBlock(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("not connected")}
	o := NewObserver(client, "posecapture", 0)

	done := make(chan struct{})
	go func() {
		o.OnEvent(enroll.Event{Type: enroll.EventSessionStarted, Total: 5})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvent blocked on a failing publish")
	}
	if len(client.published()) != 2 {
		t.Errorf("expected both publishes to be attempted")
	}
}

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	orig := NewClientFunc
	NewClientFunc = func(opts *mqtt.ClientOptions) mqtt.Client {
		fc.opts = opts
		return fc
	}
	t.Cleanup(func() { NewClientFunc = orig })
}

func TestNewClient_Disabled(t *testing.T) {
	c, err := NewClient(config.MQTTConfig{Enabled: false})
	if err != nil || c != nil {
		t.Errorf("NewClient(disabled) = %v, %v; want nil, nil", c, err)
	}
}

func TestNewClient_Connect(t *testing.T) {
	fc := &fakeClient{}
	withFakeClient(t, fc)

	c, err := NewClient(config.MQTTConfig{
		Enabled:     true,
		Broker:      "broker.local",
		Port:        1883,
		ClientID:    "posecapture-test",
		Username:    "user",
		TopicPrefix: "posecapture",
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if len(fc.opts.Servers) != 1 || fc.opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("Servers = %v", fc.opts.Servers)
	}
	if fc.opts.ClientID != "posecapture-test" || fc.opts.Username != "user" {
		t.Errorf("options = %+v", fc.opts)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.Observer().EventsTopic() != "posecapture/events" {
		t.Errorf("EventsTopic() = %q", c.Observer().EventsTopic())
	}

	c.Close()
	if fc.IsConnected() {
		t.Error("Close() should disconnect")
	}
}

func TestNewClient_ConnectError(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	withFakeClient(t, fc)

	c, err := NewClient(config.MQTTConfig{Enabled: true, Broker: "broker.local", Port: 1883, TopicPrefix: "p"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Connect(); err == nil {
		t.Error("expected connect error")
	}
}
