package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"robot/internal/logging"
	"robot/pkg/types"
)

const (
	defaultTopic          = "robot"
	defaultKeepAlive      = 30
	defaultConnectTimeout = 5 * time.Second
)

// MQTTClient is a reconnecting broker connection shared by the telemetry publisher and
// the remote mode selector.
type MQTTClient struct {
	config types.MQTTConfig
	cm     *autopaho.ConnectionManager

	// topic -> handler, re-subscribed on every reconnect
	subscriptions sync.Map

	logger *logging.Logger
}

// NewMQTTClient validates config and fills defaults. The client ID defaults to a random
// "robot-<uuid>" so two controllers never take over each other's session.
func NewMQTTClient(config types.MQTTConfig) (*MQTTClient, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if _, err := url.Parse(config.BrokerURL); err != nil {
		return nil, fmt.Errorf("invalid mqtt broker url: %w", err)
	}
	if config.ClientID == "" {
		config.ClientID = "robot-" + uuid.NewString()
	}
	if config.Topic == "" {
		config.Topic = defaultTopic
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = defaultKeepAlive
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	return &MQTTClient{
		config: config,
		logger: logging.GetLogger("mqtt"),
	}, nil
}

func (c *MQTTClient) ClientID() string { return c.config.ClientID }

// Topic joins the configured root topic with suffix.
func (c *MQTTClient) Topic(suffix string) string {
	return strings.TrimSuffix(c.config.Topic, "/") + "/" + strings.TrimPrefix(suffix, "/")
}

// Start begins connecting in the background; ctx bounds the connection manager's life.
func (c *MQTTClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.config.BrokerURL)

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.config.ConnectTimeout,
		ConnectUsername:               c.config.Username,
		ConnectPassword:               []byte(c.config.Password),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			c.logger.Warn("MQTT connection failed, retrying", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
			OnClientError: func(err error) {
				c.logger.Warn("MQTT client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.logger.Warn("MQTT server requested disconnect", "reason", d.ReasonCode)
			},
		},
	}

	c.logger.Info("Starting MQTT client", "broker", c.config.BrokerURL, "client_id", c.config.ClientID)
	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create mqtt connection: %w", err)
	}
	c.cm = cm
	return nil
}

// Publish sends payload at QoS 0; the control loop never waits on a broker ack.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if c.cm == nil {
		return errors.New("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// Subscribe registers handler for an exact topic. The subscription is sent on the next
// connection up, or immediately when already connected.
func (c *MQTTClient) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	c.subscriptions.Store(topic, handler)
	if c.cm == nil {
		return nil
	}
	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		c.logger.Debug("Deferred subscription until connected", "topic", topic, "error", err)
	}
	return nil
}

// Disconnect waits at most until ctx is done.
func (c *MQTTClient) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	_ = c.cm.Disconnect(ctx)
	c.logger.Info("MQTT client disconnected")
}

func (c *MQTTClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.logger.Info("MQTT connection up")
	c.subscriptions.Range(func(key, _ any) bool {
		topic := key.(string)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		}); err != nil {
			c.logger.Error("Failed to subscribe", "topic", topic, "error", err)
		}
		return true
	})
}

func (c *MQTTClient) route(p paho.PublishReceived) (bool, error) {
	if h, ok := c.subscriptions.Load(p.Packet.Topic); ok {
		h.(func([]byte))(p.Packet.Payload)
		return true, nil
	}
	c.logger.Debug("Message on unhandled topic", "topic", p.Packet.Topic)
	return true, nil
}
