package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/spotpeer/pkg/log"
	"github.com/autopeer-io/spotpeer/pkg/mqtt/topic"
)

type pahoClient struct {
	cfg    *ClientConfig
	client *paho.Client
	logger log.Logger

	// subscriptions holds the registered handlers.
	// Key: topic filter (string), Value: subscriptionEntry
	subscriptions sync.Map

	mu        sync.Mutex
	err       error
	closing   bool
	done      chan struct{}
	closeOnce sync.Once
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler
}

// Dial connects to the broker and completes the CONNECT handshake.
func Dial(ctx context.Context, cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := dialBroker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial broker %s: %w", cfg.BrokerURL, err)
	}

	c := &pahoClient{
		cfg:    cfg,
		logger: cfg.Logger.WithValues("broker", cfg.BrokerURL, "clientID", cfg.ClientID),
		done:   make(chan struct{}),
	}
	c.client = paho.NewClient(paho.ClientConfig{
		ClientID:           cfg.ClientID,
		Conn:               conn,
		OnClientError:      c.onClientError,
		OnServerDisconnect: c.onServerDisconnect,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.router,
		},
	})
	c.client.SetErrorLogger(log.NewPrintfLogger(c.logger.WithName("paho")))

	connect := &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: cfg.CleanStart,
	}
	if cfg.Username != "" {
		connect.Username = cfg.Username
		connect.UsernameFlag = true
	}
	if cfg.Password != "" {
		connect.Password = []byte(cfg.Password)
		connect.PasswordFlag = true
	}

	ack, err := c.client.Connect(ctx, connect)
	if err != nil {
		_ = conn.Close()
		if ack != nil && ack.ReasonCode != 0 {
			return nil, fmt.Errorf("broker refused connection: reason %d: %w", ack.ReasonCode, err)
		}
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	go c.watch()

	c.logger.Info("MQTT session established")
	return c, nil
}

func dialBroker(ctx context.Context, cfg *ClientConfig) (net.Conn, error) {
	u, _ := url.Parse(cfg.BrokerURL) // Already validated

	switch u.Scheme {
	case "ssl", "tls", "mqtts":
		d := &tls.Dialer{Config: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed brokers
			ServerName:         u.Hostname(),
		}}
		return d.DialContext(ctx, "tcp", u.Host)
	default:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", u.Host)
	}
}

func (c *pahoClient) watch() {
	<-c.client.Done()
	c.finish(errors.New("connection lost"))
}

// finish records the first end reason and closes done.
func (c *pahoClient) finish(reason error) {
	c.mu.Lock()
	if c.err == nil && !c.closing {
		c.err = reason
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *pahoClient) Done() <-chan struct{} { return c.done }

func (c *pahoClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pahoClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.err = nil
	c.mu.Unlock()

	err := c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	select {
	case <-c.client.Done():
	case <-ctx.Done():
	}
	c.finish(nil)
	c.logger.Info("MQTT session disconnected")
	return err
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	c.subscriptions.Store(topic, subscriptionEntry{
		topic:   topic,
		qos:     qos,
		handler: handler,
	})

	if _, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	}); err != nil {
		c.subscriptions.Delete(topic)
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	c.logger.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	c.subscriptions.Delete(topic)

	_, err := c.client.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

// --- Internal Callbacks ---

func (c *pahoClient) onClientError(err error) {
	c.logger.Error(err, "MQTT client error")
	c.finish(err)
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	reason := fmt.Sprintf("server disconnect: reason %d", d.ReasonCode)
	if d.Properties != nil && d.Properties.ReasonString != "" {
		reason += ": " + d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", "reasonCode", d.ReasonCode)
	c.finish(errors.New(reason))
}

// router dispatches an incoming message to every matching handler. Handlers
// run inline on the reader goroutine so messages keep their arrival order.
func (c *pahoClient) router(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(_, value any) bool {
		entry := value.(subscriptionEntry)
		if topicsMatch(topicFilter(entry.topic), p.Packet.Topic) {
			entry.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
			matched = true
		}
		return true
	})

	if !matched {
		c.logger.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil
}

// topicsMatch checks if a topic matches a filter (supports wildcards + and #).
func topicsMatch(filter, name string) bool {
	if filter == name {
		return true
	}

	if !strings.Contains(filter, topic.Wildcard) && !strings.Contains(filter, topic.MultiWildcard) {
		return false
	}

	filterParts := strings.Split(filter, topic.Separator)
	topicParts := strings.Split(name, topic.Separator)

	for i, part := range filterParts {
		if part == topic.MultiWildcard {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != topic.Wildcard && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// topicFilter strips the $share/<group>/ prefix of a shared subscription.
func topicFilter(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
