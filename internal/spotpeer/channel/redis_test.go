package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
)

type inbox struct {
	mu   sync.Mutex
	msgs []connection.Message
}

func (b *inbox) add(m connection.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) all() []connection.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]connection.Message(nil), b.msgs...)
}

func TestRedisDialerReceivesAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	d := NewRedisDialer(RedisConfig{Addr: mr.Addr(), Prefix: "parking"}, nil)
	box := &inbox{}

	sess, err := d.Dial(context.Background(), box.add)
	require.NoError(t, err)
	defer sess.Close(context.Background())

	mr.Publish("parking:spot-update", `{"data":{"spotId":1}}`)
	mr.Publish("parking:unrelated", `{}`)
	mr.Publish("parking:sensor-update", `{"data":{"sensorId":"s1"}}`)

	require.Eventually(t, func() bool { return len(box.all()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := box.all()
	assert.Equal(t, connection.KindSpotUpdate, msgs[0].Kind)
	assert.JSONEq(t, `{"data":{"spotId":1}}`, string(msgs[0].Payload))
	assert.Equal(t, connection.KindSensorUpdate, msgs[1].Kind)

	require.NoError(t, sess.Publish(context.Background(), connection.KindRequestStatus, []byte(`{}`)))
}

func TestRedisDialerUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	d := NewRedisDialer(RedisConfig{Addr: addr}, nil)
	_, err := d.Dial(context.Background(), func(connection.Message) {})
	assert.ErrorContains(t, err, "ping redis")
}

func TestRedisSessionDropAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	d := NewRedisDialer(RedisConfig{Addr: mr.Addr()}, nil)

	sess, err := d.Dial(context.Background(), func(connection.Message) {})
	require.NoError(t, err)

	mr.Close()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after server shutdown")
	}
	assert.Error(t, sess.Err())

	_ = sess.Close(context.Background())
	assert.NoError(t, sess.Err())
}
