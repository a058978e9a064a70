// Package connection manages the lifecycle of the push channel: dialing,
// bounded automatic reconnection and fan-out of channel notifications.
package connection

import (
	"context"
	"errors"
	"time"
)

// State is the push channel state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// States lists every State.
var States = []string{string(Disconnected), string(Connecting), string(Connected)}

// Inbound and outbound message kinds carried by the push channel.
const (
	KindSpotUpdate     = "spot-update"
	KindLotStatsUpdate = "lot-stats-update"
	KindSensorUpdate   = "sensor-update"
	KindRequestStatus  = "request-status"
)

var (
	// ErrReconnectExhausted is reported once when MaxAttempts consecutive
	// dials have failed. No further retry is scheduled.
	ErrReconnectExhausted = errors.New("push channel reconnect attempts exhausted")

	// ErrNotConnected is returned by Publish without an open session.
	ErrNotConnected = errors.New("push channel not connected")
)

// ConnectionState is a point-in-time view of the manager.
type ConnectionState struct {
	State     State     `json:"state"`
	ChangedAt time.Time `json:"changedAt"`
	// Attempts counts consecutive failed dials; reset on success.
	Attempts int `json:"attempts"`
}

// Message is one payload received from or sent to the push channel.
type Message struct {
	Kind    string
	Payload []byte
}

// Dialer opens push channel sessions. onMessage is invoked for every inbound
// message until the session ends.
type Dialer interface {
	Dial(ctx context.Context, onMessage func(Message)) (Session, error)
}

// Session is an open push channel.
type Session interface {
	Publish(ctx context.Context, kind string, payload []byte) error
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended, nil after Close.
	Err() error
	Close(ctx context.Context) error
}

// Handlers receive manager notifications. Any of them may be nil. They are
// called sequentially, in emission order, without any manager lock held.
type Handlers struct {
	OnStatusChange func(ConnectionState)
	OnEvent        func(Message)
	OnError        func(error)
}

// Config tunes reconnection.
type Config struct {
	// Reconnect enables automatic retry after failed dials and drops.
	Reconnect bool
	// MaxAttempts bounds consecutive failed dials. Zero means unbounded.
	MaxAttempts int
	// Delay is the fixed wait before each retry.
	Delay time.Duration
	// ConnectTimeout bounds each dial.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the stock reconnect policy.
func DefaultConfig() Config {
	return Config{
		Reconnect:      true,
		MaxAttempts:    5,
		Delay:          3 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}
