// Package channel binds the connection manager to concrete push transports.
package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/pkg/log"
	"github.com/autopeer-io/spotpeer/pkg/mqtt"
	"github.com/autopeer-io/spotpeer/pkg/mqtt/topic"
)

// kindSuffixes maps inbound message kinds to their topic segment.
var kindSuffixes = map[string]string{
	connection.KindSpotUpdate:     topic.SuffixSpotUpdate,
	connection.KindLotStatsUpdate: topic.SuffixLotStats,
	connection.KindSensorUpdate:   topic.SuffixSensorUpdate,
}

// MQTTConfig configures MQTTDialer.
type MQTTConfig struct {
	Client mqtt.ClientConfig
	// Root is the topic namespace, e.g. "parking/v1".
	Root string
	QoS  int
}

// DialFunc opens an MQTT session. Replaced in tests.
type DialFunc func(ctx context.Context, cfg *mqtt.ClientConfig) (mqtt.Client, error)

// MQTTDialer dials MQTT sessions subscribed to every inbound kind.
type MQTTDialer struct {
	cfg     MQTTConfig
	builder *topic.TopicBuilder
	dial    DialFunc
	logger  log.Logger
}

var _ connection.Dialer = (*MQTTDialer)(nil)

// NewMQTTDialer returns a dialer for cfg. An empty client id gets a random one.
func NewMQTTDialer(cfg MQTTConfig, logger log.Logger) *MQTTDialer {
	if cfg.Client.ClientID == "" {
		cfg.Client.ClientID = "spotpeer-" + uuid.NewString()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cfg.Client.Logger = logger.WithName("mqtt")

	return &MQTTDialer{
		cfg:     cfg,
		builder: topic.NewTopicBuilder(cfg.Root),
		dial:    mqtt.Dial,
		logger:  logger.WithName("mqtt-channel"),
	}
}

// Dial implements connection.Dialer.
func (d *MQTTDialer) Dial(ctx context.Context, onMessage func(connection.Message)) (connection.Session, error) {
	clientCfg := d.cfg.Client
	client, err := d.dial(ctx, &clientCfg)
	if err != nil {
		return nil, err
	}

	kinds := make(map[string]string, len(kindSuffixes))
	for kind, suffix := range kindSuffixes {
		kinds[suffix] = kind
	}
	handler := func(_ context.Context, t string, payload []byte) {
		suffix, ok := d.builder.Suffix(t)
		if !ok {
			d.logger.Debug("Ignoring message outside topic root", "topic", t)
			return
		}
		kind, ok := kinds[suffix]
		if !ok {
			d.logger.Debug("Ignoring message of unknown kind", "topic", t)
			return
		}
		onMessage(connection.Message{Kind: kind, Payload: payload})
	}

	for _, suffix := range kindSuffixes {
		if err := client.Subscribe(ctx, d.builder.Wildcard(suffix), d.cfg.QoS, handler); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("subscribe %s: %w", suffix, err)
		}
	}

	return &mqttSession{client: client, dialer: d, clientID: clientCfg.ClientID}, nil
}

type mqttSession struct {
	client   mqtt.Client
	dialer   *MQTTDialer
	clientID string
}

func (s *mqttSession) Publish(ctx context.Context, kind string, payload []byte) error {
	var t string
	switch kind {
	case connection.KindRequestStatus:
		t = s.dialer.builder.RequestStatus(s.clientID)
	default:
		suffix, ok := kindSuffixes[kind]
		if !ok {
			return fmt.Errorf("unknown message kind %q", kind)
		}
		t = s.dialer.builder.Build(suffix, s.clientID)
	}
	return s.client.Publish(ctx, t, s.dialer.cfg.QoS, false, payload)
}

func (s *mqttSession) Done() <-chan struct{}           { return s.client.Done() }
func (s *mqttSession) Err() error                      { return s.client.Err() }
func (s *mqttSession) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
