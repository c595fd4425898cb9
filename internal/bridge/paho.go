package bridge

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/poolsense/spintouch/internal/reading"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTPublisher publishes to a real broker.
type MQTTPublisher struct {
	log    *logrus.Logger
	opts   Options
	client paho.Client
}

// NewMQTTPublisher connects to the broker. The broker's last-will marks the
// device offline if this process dies uncleanly.
func NewMQTTPublisher(logger *logrus.Logger, opts Options) (*MQTTPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(opts.AvailabilityTopic(), PayloadOffline, 1, true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"broker":    opts.Broker,
		"client_id": opts.ClientID,
	}).Info("Connected to MQTT broker")

	return &MQTTPublisher{log: logger, opts: opts, client: client}, nil
}

func (p *MQTTPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishDiscovery announces every sensor config, retained so Home
// Assistant restores the entities after restarts.
func (p *MQTTPublisher) PublishDiscovery() error {
	for _, s := range discoverySensors() {
		payload, err := FormatDiscoveryPayload(p.opts, s.Key, s.Name, s.Unit, s.Icon)
		if err != nil {
			return fmt.Errorf("format discovery for %s: %w", s.Key, err)
		}
		if err := p.publish(p.opts.DiscoveryTopic(s.Key), 1, true, payload); err != nil {
			return err
		}
	}
	p.log.WithField("sensors", len(discoverySensors())).Info("Published discovery configs")
	return nil
}

// PublishReading sends the reading state JSON, retained so a restarted
// host picks up the last known chemistry.
func (p *MQTTPublisher) PublishReading(snap reading.Snapshot) error {
	payload, err := FormatStatePayload(snap)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(p.opts.StateTopic(), 0, true, payload)
}

// PublishAvailability sends online/offline, retained.
func (p *MQTTPublisher) PublishAvailability(online bool) error {
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	return p.publish(p.opts.AvailabilityTopic(), 1, true, []byte(payload))
}

// SubscribeCommands listens on the command topic. Unknown payloads are
// logged and dropped.
func (p *MQTTPublisher) SubscribeCommands(onForceReconnect func()) error {
	token := p.client.Subscribe(p.opts.CommandTopic(), 1, func(_ paho.Client, msg paho.Message) {
		cmd := string(msg.Payload())
		p.log.WithField("command", cmd).Info("Received MQTT command")
		switch cmd {
		case CommandReconnect:
			onForceReconnect()
		default:
			p.log.WithField("command", cmd).Warn("Unknown MQTT command")
		}
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout on %s", p.opts.CommandTopic())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", p.opts.CommandTopic(), err)
	}
	return nil
}

// Close marks the device offline and disconnects.
func (p *MQTTPublisher) Close() error {
	if err := p.PublishAvailability(false); err != nil {
		p.log.WithError(err).Warn("Failed to publish offline availability during close")
	}
	p.client.Disconnect(1000)
	return nil
}

var _ Publisher = (*MQTTPublisher)(nil)
