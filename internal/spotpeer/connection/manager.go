package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/spotpeer/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/spotpeer/internal/pkg/util/fsm"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

const (
	evConnect     = "connect"
	evEstablished = "established"
	evFail        = "fail"
	evDrop        = "drop"
	evClose       = "close"
)

// errPeerClosed is reported when a session ends without a reason.
var errPeerClosed = errors.New("session closed by peer")

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for retry timers and timestamps.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the push channel. All state lives behind mu; notifications
// are queued under mu and delivered by drain once mu is released.
type Manager struct {
	dialer Dialer
	cfg    Config
	clock  clock.WithDelayedExecution
	logger log.Logger

	mu         sync.Mutex
	fsm        *fsm.FSM
	handlers   []Handlers
	changedAt  time.Time
	attempts   int
	gen        uint64
	session    Session
	cancelDial context.CancelFunc
	timer      clock.Timer
	queue      []notification
	draining   bool
}

type notification struct {
	state *ConnectionState
	msg   *Message
	err   error
}

// NewManager returns a disconnected manager. Call Connect to open the channel.
func NewManager(dialer Dialer, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		dialer: dialer,
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithName("connection")
	m.changedAt = m.clock.Now()

	disconnected, connecting, connected := string(Disconnected), string(Connecting), string(Connected)
	m.fsm = fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: evConnect, Src: []string{disconnected}, Dst: connecting},
			{Name: evEstablished, Src: []string{connecting}, Dst: connected},
			{Name: evFail, Src: []string{connecting}, Dst: disconnected},
			{Name: evDrop, Src: []string{connected}, Dst: disconnected},
			{Name: evClose, Src: []string{disconnected, connecting, connected}, Dst: disconnected},
		},
		fsm.Callbacks{
			"before_" + evConnect: fsmutil.WrapEvent(m.beforeConnect),
			"enter_state":         m.enterState,
		},
	)
	metrics.SetConnectionState(disconnected, States...)

	return m
}

// AddHandlers registers a set of notification handlers.
func (m *Manager) AddHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionState{State: State(m.fsm.Current()), ChangedAt: m.changedAt, Attempts: m.attempts}
}

// Connect opens the push channel in the background. It is a no-op while a
// dial is in flight or a session is open. Otherwise it cancels any pending
// retry and resets the attempt counter.
func (m *Manager) Connect() {
	m.mu.Lock()
	if State(m.fsm.Current()) != Disconnected {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.attempts = 0
	m.dialLocked()
	m.mu.Unlock()

	m.drain()
}

// Disconnect cancels any pending retry or dial, closes the session and stays
// disconnected until Connect is called again.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	sess := m.session
	m.session = nil
	if err := fsmutil.IgnoreNoTransition(m.fsm.Event(context.Background(), evClose)); err != nil {
		m.logger.Error(err, "Unexpected state machine error on close")
	}
	m.mu.Unlock()

	var err error
	if sess != nil {
		if err = sess.Close(ctx); err != nil {
			err = fmt.Errorf("close push channel: %w", err)
		}
	}
	m.drain()
	return err
}

// Publish sends an outbound message over the open session.
func (m *Manager) Publish(ctx context.Context, kind string, payload []byte) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.Publish(ctx, kind, payload); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (m *Manager) beforeConnect(_ context.Context, _ *fsm.Event) error {
	if m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts {
		return ErrReconnectExhausted
	}
	return nil
}

// enterState runs inside fsm.Event, which is only called with mu held.
func (m *Manager) enterState(_ context.Context, e *fsm.Event) {
	m.changedAt = m.clock.Now()
	st := ConnectionState{State: State(e.Dst), ChangedAt: m.changedAt, Attempts: m.attempts}

	metrics.SetConnectionState(e.Dst, States...)
	metrics.ReconnectAttempts.Set(float64(m.attempts))
	m.logger.Info("Push channel state changed", "from", e.Src, "to", e.Dst, "event", e.Event, "attempts", m.attempts)

	m.queue = append(m.queue, notification{state: &st})
}

func (m *Manager) dialLocked() {
	if err := m.fsm.Event(context.Background(), evConnect); err != nil {
		m.logger.Error(err, "Dial rejected")
		return
	}

	m.gen++
	gen := m.gen

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancelDial = cancel

	go m.dial(ctx, cancel, gen)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	sess, err := m.dialer.Dial(ctx, func(msg Message) { m.deliver(gen, msg) })

	m.mu.Lock()
	if gen != m.gen {
		// Disconnected while dialing.
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close(context.Background())
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.attempts++
		_ = m.fsm.Event(context.Background(), evFail)
		m.queue = append(m.queue, notification{err: fmt.Errorf("dial push channel (attempt %d): %w", m.attempts, err)})
		m.scheduleRetryLocked()
		m.mu.Unlock()
		m.drain()
		return
	}

	m.session = sess
	m.attempts = 0
	_ = m.fsm.Event(context.Background(), evEstablished)
	m.mu.Unlock()
	m.drain()

	go m.watch(sess, gen)
}

func (m *Manager) watch(sess Session, gen uint64) {
	<-sess.Done()

	m.mu.Lock()
	if gen != m.gen || m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	_ = m.fsm.Event(context.Background(), evDrop)

	reason := sess.Err()
	if reason == nil {
		reason = errPeerClosed
	}
	m.queue = append(m.queue, notification{err: fmt.Errorf("push channel dropped: %w", reason)})
	m.scheduleRetryLocked()
	m.mu.Unlock()

	m.drain()
}

func (m *Manager) deliver(gen uint64, msg Message) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, notification{msg: &msg})
	m.mu.Unlock()

	m.drain()
}

func (m *Manager) scheduleRetryLocked() {
	if !m.cfg.Reconnect {
		return
	}
	if m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts {
		metrics.ReconnectExhaustedTotal.Inc()
		m.logger.Warn("Giving up on push channel", "attempts", m.attempts)
		m.queue = append(m.queue, notification{err: ErrReconnectExhausted})
		return
	}
	if m.timer != nil {
		return
	}

	gen := m.gen
	// The fake clock runs AfterFunc callbacks under its own lock.
	m.timer = m.clock.AfterFunc(m.cfg.Delay, func() { go m.retry(gen) })
	m.logger.Debug("Scheduled reconnect", "delay", m.cfg.Delay, "attempts", m.attempts)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if State(m.fsm.Current()) == Disconnected {
		m.dialLocked()
	}
	m.mu.Unlock()

	m.drain()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// drain delivers queued notifications in order. Only one goroutine drains at
// a time; notifications queued by handlers are picked up by the same loop.
func (m *Manager) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.queue) > 0 {
		n := m.queue[0]
		m.queue = m.queue[1:]
		handlers := m.handlers[:len(m.handlers):len(m.handlers)]

		m.mu.Unlock()
		m.dispatch(handlers, n)
		m.mu.Lock()
	}

	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) dispatch(handlers []Handlers, n notification) {
	for _, h := range handlers {
		switch {
		case n.state != nil && h.OnStatusChange != nil:
			m.safely("status", func() { h.OnStatusChange(*n.state) })
		case n.msg != nil && h.OnEvent != nil:
			m.safely("event", func() { h.OnEvent(*n.msg) })
		case n.err != nil && h.OnError != nil:
			m.safely("error", func() { h.OnError(n.err) })
		}
	}
}

func (m *Manager) safely(handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(fmt.Errorf("%v", r), "Notification handler panicked", "handler", handler)
		}
	}()
	fn()
}
