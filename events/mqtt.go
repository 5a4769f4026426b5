package events

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQueueSize      = 256
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 250 // ms
)

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Broker   string // host:port or a full tcp:// / ssl:// URL
	ClientID string
	Username string
	Password string
	Topic    string // events go to <Topic>/<session_id>/<type>
}

// MQTTPublisher forwards session events to an MQTT broker. Observe never
// blocks: events are queued and published from a background goroutine,
// and dropped if the queue is full or the broker is unreachable.
type MQTTPublisher struct {
	client paho.Client
	topic  string
	logger *slog.Logger

	queue   chan Event
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

// NewMQTTPublisher connects to the broker in the background and returns
// immediately; events observed before the connection is up are dropped.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true).
		SetMaxReconnectInterval(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("MQTT connected", slog.String("broker", broker))
	})

	p := newMQTTPublisher(paho.NewClient(opts), cfg.Topic, logger)
	p.client.Connect()
	return p
}

func newMQTTPublisher(client paho.Client, topic string, logger *slog.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		logger:  logger,
		queue:   make(chan Event, mqttQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// Observe queues e for publishing
func (p *MQTTPublisher) Observe(e Event) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- e:
	default:
		p.logger.Debug("MQTT queue full, event dropped", slog.String("type", string(e.Type)))
	}
}

func (p *MQTTPublisher) run() {
	defer close(p.stopped)
	for {
		select {
		case e := <-p.queue:
			p.publish(e)
		case <-p.done:
			for {
				select {
				case e := <-p.queue:
					p.publish(e)
				default:
					return
				}
			}
		}
	}
}

// Topic returns the topic an event is published to
func (p *MQTTPublisher) Topic(e Event) string {
	return fmt.Sprintf("%s/%s/%s", p.topic, e.SessionID, e.Type)
}

func (p *MQTTPublisher) publish(e Event) {
	if !p.client.IsConnectionOpen() {
		return
	}
	payload, err := sonic.Marshal(e)
	if err != nil {
		p.logger.Warn("MQTT encode failed", slog.Any("error", err))
		return
	}

	retained := e.Type == TypeResult
	token := p.client.Publish(p.Topic(e), 1, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.logger.Warn("MQTT publish timed out", slog.String("topic", p.Topic(e)))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("MQTT publish failed", slog.String("topic", p.Topic(e)), slog.Any("error", err))
	}
}

// Close flushes queued events and disconnects
func (p *MQTTPublisher) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	<-p.stopped
	if p.client.IsConnected() {
		p.client.Disconnect(mqttQuiesce)
	}
}
