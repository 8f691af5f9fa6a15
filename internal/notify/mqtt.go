// Package notify forwards capture session progress to an MQTT broker.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/config"
	"github.com/ayusman/posecapture/internal/enroll"
)

// NewClientFunc builds the underlying paho client. Tests replace it.
var NewClientFunc = mqtt.NewClient

const (
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

// Publisher is the part of mqtt.Client the observer uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// statePayload is the retained summary published to <prefix>/state.
type statePayload struct {
	State     string           `json:"state"`
	SessionID string           `json:"session_id,omitempty"`
	Pose      string           `json:"pose,omitempty"`
	Index     int              `json:"index"`
	Total     int              `json:"total"`
	Captured  int              `json:"captured"`
	Reason    enroll.Reason    `json:"reason,omitempty"`
	Event     enroll.EventType `json:"event"`
	Time      time.Time        `json:"time"`
}

// Observer publishes every session event to <prefix>/events and keeps a
// retained session summary on <prefix>/state. It never blocks the caller on
// the broker.
type Observer struct {
	pub    Publisher
	prefix string
	qos    byte
}

// NewObserver wraps an existing publisher.
func NewObserver(pub Publisher, prefix string, qos byte) *Observer {
	return &Observer{pub: pub, prefix: prefix, qos: qos}
}

// EventsTopic returns the topic events are published to.
func (o *Observer) EventsTopic() string { return o.prefix + "/events" }

// StateTopic returns the retained state topic.
func (o *Observer) StateTopic() string { return o.prefix + "/state" }

// OnEvent implements enroll.Observer.
func (o *Observer) OnEvent(e enroll.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.WithError(err).Warn("failed to encode session event")
		return
	}
	o.publish(o.EventsTopic(), false, payload)

	state, err := json.Marshal(stateFor(e))
	if err != nil {
		log.WithError(err).Warn("failed to encode session state")
		return
	}
	o.publish(o.StateTopic(), true, state)
}

func (o *Observer) publish(topic string, retained bool, payload []byte) {
	token := o.pub.Publish(topic, o.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.WithField("topic", topic).Warn("MQTT publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.WithFields(log.Fields{
				"topic": topic,
				"error": err,
			}).Warn("MQTT publish failed")
		}
	}()
}

// stateFor maps an event to the session state it leaves behind.
func stateFor(e enroll.Event) statePayload {
	s := statePayload{
		SessionID: e.SessionID,
		Pose:      string(e.Pose),
		Index:     e.Index,
		Total:     e.Total,
		Captured:  e.Captured,
		Reason:    e.Reason,
		Event:     e.Type,
		Time:      e.Time,
	}

	switch e.Type {
	case enroll.EventSessionStarted, enroll.EventPoseAdvanced:
		s.State = enroll.StateAwaitingPose.String()
	case enroll.EventPoseCaptured:
		if e.Captured >= e.Total {
			s.State = enroll.StateCompleted.String()
		} else {
			s.State = enroll.StateCooldown.String()
		}
	case enroll.EventSessionCompleted:
		s.State = enroll.StateCompleted.String()
	case enroll.EventSessionAborted:
		s.State = enroll.StateAborted.String()
	case enroll.EventSessionReset:
		s.State = enroll.StateIdle.String()
		s.Pose = ""
		s.Index = 0
		s.Captured = 0
	}
	return s
}

// Client owns a broker connection and the Observer publishing through it.
type Client struct {
	cfg      config.MQTTConfig
	client   mqtt.Client
	observer *Observer
}

// NewClient configures a client for cfg. It returns nil, nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT publishing is disabled")
		return nil, nil
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}

	c := &Client{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", c.brokerURL()).Info("connected to MQTT broker")
	})

	c.client = NewClientFunc(opts)
	c.observer = NewObserver(c.client, cfg.TopicPrefix, cfg.QoS)
	return c, nil
}

func (c *Client) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
}

// Connect dials the broker and waits for the first connection attempt.
func (c *Client) Connect() error {
	log.WithField("broker", c.brokerURL()).Info("connecting to MQTT broker")
	token := c.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: connect to %s timed out", c.brokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", c.brokerURL(), err)
	}
	return nil
}

// Observer returns the session observer publishing through this client.
func (c *Client) Observer() *Observer {
	return c.observer
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
		log.Info("MQTT client disconnected")
	}
}
