// internal/sink/mqtt.go
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/codec"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	mqttQoS        = 1
)

// MQTTConfig is the broker connection.
type MQTTConfig struct {
	Broker    string
	Port      int
	ClientID  string
	RootTopic string
	Username  string
	Password  string
}

// Address returns the broker URL.
func (c MQTTConfig) Address() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// TagMessage is the JSON payload published per tag.
// Value fields are omitted when the cycle did not produce them.
type TagMessage struct {
	Tag       string   `json:"tag"`
	Index     int      `json:"index"`
	Outcome   string   `json:"outcome"`
	Float     *float64 `json:"float,omitempty"`
	Dword     *uint32  `json:"dword,omitempty"`
	Word      *uint16  `json:"word,omitempty"`
	Bits      string   `json:"bits,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// StatusMessage is the JSON payload published to <root>/status.
type StatusMessage struct {
	Online    bool   `json:"online"`
	Health    string `json:"health"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewTagMessage builds the payload for ev without a timestamp.
func NewTagMessage(ev poller.Event) TagMessage {
	msg := TagMessage{
		Tag:     ev.TagID,
		Index:   ev.Index,
		Outcome: ev.Outcome.String(),
	}
	if ev.HaveFloat {
		f := codec.DisplayFloat(ev.Reading.Float)
		msg.Float = &f
	}
	if ev.HaveRegisters {
		d, w := ev.Reading.Dword, ev.Reading.Word
		msg.Dword = &d
		msg.Word = &w
		msg.Bits = ev.Reading.BitString
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// MQTT publishes tag readings and connection status to a broker.
// Identical payloads for a topic are not republished.
//
// HandleEvent and HandleStatus only queue the newest payload per topic;
// a worker started by Start does the publishing, so a slow or
// reconnecting broker coalesces updates instead of blocking the caller.
type MQTT struct {
	cfg    MQTTConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	client  pahomqtt.Client
	running bool
	stop    chan struct{}
	done    chan struct{}

	// publish is the transport; replaced in tests.
	publish func(topic string, payload []byte) error
	now     func() time.Time

	lastMu     sync.Mutex
	lastValues map[string]string
	pending    map[string]outbound
	order      []string

	kick chan struct{}
}

// outbound is a queued publish; key is the payload without its timestamp.
type outbound struct {
	key     string
	payload []byte
}

func NewMQTT(cfg MQTTConfig, logger zerolog.Logger) *MQTT {
	m := &MQTT{
		cfg:        cfg,
		logger:     logger.With().Str("broker", cfg.Address()).Logger(),
		now:        time.Now,
		lastValues: make(map[string]string),
		pending:    make(map[string]outbound),
		kick:       make(chan struct{}, 1),
	}
	m.publish = m.publishPaho
	return m
}

// TagTopic is <root>/<tag-id>.
func (m *MQTT) TagTopic(id string) string {
	return m.cfg.RootTopic + "/" + id
}

// StatusTopic is <root>/status.
func (m *MQTT) StatusTopic() string {
	return m.cfg.RootTopic + "/status"
}

// Start connects to the broker. A retained offline status is registered as
// the last will so subscribers see the process drop.
func (m *MQTT) Start() error {
	m.mu.RLock()
	if m.running {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	will, err := json.Marshal(StatusMessage{Online: false, Health: status.HealthUnknown.String()})
	if err != nil {
		return err
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Address())
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetBinaryWill(m.StatusTopic(), will, mqttQoS, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		m.logger.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		// force a full republish after (re)connect
		m.lastMu.Lock()
		m.lastValues = make(map[string]string)
		m.lastMu.Unlock()
		m.logger.Info().Msg("mqtt connected")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	m.client = client
	m.running = true
	m.mu.Unlock()

	m.startWorker()
	return nil
}

// Stop flushes queued payloads, publishes an offline status and disconnects.
func (m *MQTT) Stop() {
	m.mu.Lock()
	if !m.running || m.client == nil {
		m.mu.Unlock()
		return
	}
	client := m.client
	m.mu.Unlock()

	m.stopWorker()
	m.HandleStatus(status.HealthUnknown)
	m.drain()

	m.mu.Lock()
	m.running = false
	m.client = nil
	m.mu.Unlock()

	client.Disconnect(500)
}

func (m *MQTT) startWorker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop, m.done = stop, done

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-m.kick:
				m.drain()
			}
		}
	}()
}

// stopWorker waits for an in-progress publish to finish.
func (m *MQTT) stopWorker() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *MQTT) HandleEvent(ev poller.Event) {
	msg := NewTagMessage(ev)
	m.send(m.TagTopic(ev.TagID), msg, func(ts string) any {
		msg.Timestamp = ts
		return msg
	})
}

func (m *MQTT) HandleStatus(h status.Health) {
	msg := StatusMessage{Online: h.Online(), Health: h.String()}
	m.send(m.StatusTopic(), msg, func(ts string) any {
		msg.Timestamp = ts
		return msg
	})
}

// send queues stamp(ts) for topic unless body, which excludes the
// timestamp, matches what was last published or is already queued.
// A newer payload replaces a queued one for the same topic.
func (m *MQTT) send(topic string, body any, stamp func(ts string) any) {
	key, err := json.Marshal(body)
	if err != nil {
		return
	}
	payload, err := json.Marshal(stamp(m.now().UTC().Format(time.RFC3339)))
	if err != nil {
		return
	}

	m.lastMu.Lock()
	q, queued := m.pending[topic]
	last, seen := m.lastValues[topic]
	switch {
	case queued && q.key == string(key):
	case !queued && seen && last == string(key):
	default:
		if !queued {
			m.order = append(m.order, topic)
		}
		m.pending[topic] = outbound{key: string(key), payload: payload}
	}
	m.lastMu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// drain publishes queued payloads in arrival order until none are left.
// A failed publish is dropped; the next event for that topic retries.
func (m *MQTT) drain() {
	for {
		m.lastMu.Lock()
		if len(m.order) == 0 {
			m.lastMu.Unlock()
			return
		}
		topic := m.order[0]
		m.order = m.order[1:]
		q := m.pending[topic]
		delete(m.pending, topic)
		m.lastMu.Unlock()

		if err := m.publish(topic, q.payload); err != nil {
			m.logger.Debug().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			continue
		}

		m.lastMu.Lock()
		m.lastValues[topic] = q.key
		m.lastMu.Unlock()
	}
}

func (m *MQTT) publishPaho(topic string, payload []byte) error {
	m.mu.RLock()
	running, client := m.running, m.client
	m.mu.RUnlock()

	if !running || client == nil {
		return errors.New("mqtt: not connected")
	}

	token := client.Publish(topic, mqttQoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt: publish timeout")
	}
	return token.Error()
}
