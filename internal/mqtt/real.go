package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Config holds broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
}

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are held in a ring buffer and replayed, oldest
// first, once the client reconnects.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher connected to the configured broker.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "home-monitor"
	}

	p := newPublisher(nil, NewTopics(cfg.TopicPrefix), cfg.BufferSize)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.topics.System, string(WillPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Infof("mqtt: connected to %s", cfg.Broker)
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Connect keeps retrying in the background; publishes buffer until then.
		log.Warnf("mqtt: broker %s not reachable after %v, buffering", cfg.Broker, connectTimeout)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newPublisher(client paho.Client, topics Topics, bufferSize int) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &RealPublisher{
		client: client,
		topics: topics,
		buf:    newRingBuffer(bufferSize),
	}
}

// PublishReading sends a reading (QoS 0, retained so dashboards see the
// latest value on subscribe).
func (p *RealPublisher) PublishReading(event ReadingEvent) error {
	payload, err := FormatReadingPayload(event)
	if err != nil {
		return fmt.Errorf("format reading payload: %w", err)
	}
	return p.publish(p.topics.Reading, 0, true, payload)
}

// PublishMotion sends a motion change (QoS 1).
func (p *RealPublisher) PublishMotion(event MotionEvent) error {
	payload, err := FormatMotionPayload(event)
	if err != nil {
		return fmt.Errorf("format motion payload: %w", err)
	}
	return p.publish(p.topics.Motion, 1, false, payload)
}

// PublishKeypad sends keypad activity (QoS 0).
func (p *RealPublisher) PublishKeypad(event KeypadEvent) error {
	payload, err := FormatKeypadPayload(event)
	if err != nil {
		return fmt.Errorf("format keypad payload: %w", err)
	}
	return p.publish(p.topics.Keypad, 0, false, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the client currently has a live connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}

	if err := p.send(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages. Messages that fail again are re-queued in
// order and the replay stops.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	log.Infof("mqtt: replaying %d buffered messages", len(pending))

	for i, msg := range pending {
		if err := p.send(msg); err != nil {
			log.Warnf("mqtt: replay stopped: %v", err)
			p.mu.Lock()
			for _, m := range pending[i:] {
				p.buf.push(m)
			}
			p.mu.Unlock()
			return
		}
	}
}
