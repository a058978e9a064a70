package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	for _, o := range []IOptions{
		NewHttpOptions(),
		NewMqttOptions(),
		NewRedisOptions(),
		NewSnapshotOptions(),
		NewPostgresOptions(),
		NewConnectionOptions(),
		NewLotOptions(),
	} {
		assert.Empty(t, o.Validate(), "%T", o)
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("0.0.0.0:8080"))
	assert.NoError(t, ValidateAddress(":8080"))
	assert.NoError(t, ValidateAddress("localhost:6379"))
	assert.Error(t, ValidateAddress("8080"))
	assert.Error(t, ValidateAddress("host:http"))
	assert.Error(t, ValidateAddress("host:70000"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	snap := NewSnapshotOptions()
	snap.Source = "ftp"
	snap.Timeout = 0
	assert.Len(t, snap.Validate(), 2)

	snap = NewSnapshotOptions()
	snap.BaseURL = "backend:3001"
	assert.Len(t, snap.Validate(), 1)

	conn := NewConnectionOptions()
	conn.Transport = "websocket"
	conn.Delay = 0
	assert.Len(t, conn.Validate(), 2)

	mq := NewMqttOptions()
	mq.Broker = "wss://broker/mqtt"
	mq.QoS = 3
	assert.Len(t, mq.Validate(), 2)

	assert.Len(t, (&LotOptions{ID: -1}).Validate(), 1)
	assert.Len(t, (&RedisOptions{Addr: "nope"}).Validate(), 1)
}

func TestAddFlags(t *testing.T) {
	o := NewConnectionOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--connection.transport=redis", "--connection.delay=1s", "--connection.max-attempts=0"}))
	assert.Equal(t, TransportRedis, o.Transport)
	assert.Equal(t, time.Second, o.Delay)
	assert.Zero(t, o.MaxAttempts)
}

func TestMqttToClientConfig(t *testing.T) {
	o := NewMqttOptions()
	cfg := o.ToClientConfig(7 * time.Second)
	assert.Equal(t, uint16(60), cfg.KeepAlive)
	assert.Equal(t, 7*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, o.Broker, cfg.BrokerURL)
}
