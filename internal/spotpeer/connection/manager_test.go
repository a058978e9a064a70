package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	delay   = 3 * time.Second
)

type fakeSession struct {
	mu        sync.Mutex
	done      chan struct{}
	once      sync.Once
	err       error
	closed    bool
	published []Message
}

func newFakeSession() *fakeSession { return &fakeSession{done: make(chan struct{})} }

func (s *fakeSession) Publish(_ context.Context, kind string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, Message{Kind: kind, Payload: payload})
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	fail      error
	block     chan struct{}
	sessions  []*fakeSession
	onMessage func(Message)
}

func (d *fakeDialer) Dial(ctx context.Context, onMessage func(Message)) (Session, error) {
	d.mu.Lock()
	d.dials++
	d.onMessage = onMessage
	block, fail := d.block, d.fail
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}

	s := newFakeSession()
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) emit(msg Message) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	fn(msg)
}

type recorder struct {
	mu     sync.Mutex
	states []State
	events []Message
	errs   []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStatusChange: func(s ConnectionState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s.State)
		},
		OnEvent: func(m Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, m)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) countErr(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeDialer, *testingclock.FakeClock, *recorder) {
	t.Helper()
	d := &fakeDialer{}
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(d, cfg, WithClock(fc))
	rec := &recorder{}
	m.AddHandlers(rec.handlers())
	return m, d, fc, rec
}

func testConfig(maxAttempts int) Config {
	return Config{Reconnect: true, MaxAttempts: maxAttempts, Delay: delay, ConnectTimeout: time.Second}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State().State == want }, waitFor, tick, "state never became %s", want)
}

func TestConnectIsIdempotent(t *testing.T) {
	m, d, _, rec := newTestManager(t, testConfig(5))

	assert.Equal(t, Disconnected, m.State().State)

	m.Connect()
	waitState(t, m, Connected)
	m.Connect()
	m.Connect()

	assert.Equal(t, 1, d.dialCount())
	require.Eventually(t, func() bool { return len(rec.stateLog()) == 2 }, waitFor, tick)
	assert.Equal(t, []State{Connecting, Connected}, rec.stateLog())
	assert.Zero(t, m.State().Attempts)
}

func TestReconnectBound(t *testing.T) {
	m, d, fc, rec := newTestManager(t, testConfig(3))
	d.setFail(errors.New("connection refused"))

	m.Connect()
	for i := 0; i < 2; i++ {
		require.Eventually(t, fc.HasWaiters, waitFor, tick)
		assert.Equal(t, 1, fc.Waiters(), "more than one pending retry timer")
		fc.Step(delay)
	}

	require.Eventually(t, func() bool { return rec.countErr(ErrReconnectExhausted) == 1 }, waitFor, tick)
	assert.Equal(t, 3, d.dialCount())
	assert.Equal(t, 3, m.State().Attempts)
	assert.Equal(t, Disconnected, m.State().State)
	assert.False(t, fc.HasWaiters())

	fc.Step(10 * delay)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, d.dialCount())
	assert.Equal(t, 1, rec.countErr(ErrReconnectExhausted))
}

func TestExplicitConnectResetsAttempts(t *testing.T) {
	m, d, _, rec := newTestManager(t, testConfig(1))
	d.setFail(errors.New("unreachable"))

	m.Connect()
	require.Eventually(t, func() bool { return rec.countErr(ErrReconnectExhausted) == 1 }, waitFor, tick)

	d.setFail(nil)
	m.Connect()
	waitState(t, m, Connected)
	assert.Zero(t, m.State().Attempts)
	assert.Equal(t, 2, d.dialCount())
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	m, d, fc, _ := newTestManager(t, testConfig(5))
	d.setFail(errors.New("unreachable"))

	m.Connect()
	require.Eventually(t, fc.HasWaiters, waitFor, tick)

	require.NoError(t, m.Disconnect(context.Background()))
	assert.False(t, fc.HasWaiters())

	fc.Step(delay)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, Disconnected, m.State().State)
}

func TestDisconnectClosesSession(t *testing.T) {
	m, d, fc, rec := newTestManager(t, testConfig(5))

	m.Connect()
	waitState(t, m, Connected)
	sess := d.lastSession()

	require.NoError(t, m.Disconnect(context.Background()))

	assert.True(t, sess.isClosed())
	assert.Equal(t, Disconnected, m.State().State)
	assert.False(t, fc.HasWaiters(), "caller-initiated disconnect must not schedule a retry")
	require.Eventually(t, func() bool { return len(rec.stateLog()) == 3 }, waitFor, tick)
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, rec.stateLog())

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Len(t, rec.stateLog(), 3)
}

func TestDisconnectDuringDial(t *testing.T) {
	m, d, _, _ := newTestManager(t, testConfig(5))
	release := make(chan struct{})
	d.block = release

	m.Connect()
	require.Eventually(t, func() bool { return d.dialCount() == 1 }, waitFor, tick)
	assert.Equal(t, Connecting, m.State().State)

	require.NoError(t, m.Disconnect(context.Background()))
	close(release)

	require.Eventually(t, func() bool {
		s := d.lastSession()
		return s != nil && s.isClosed()
	}, waitFor, tick)
	assert.Equal(t, Disconnected, m.State().State)
}

var errTransportClose = errors.New("transport close")

func TestDropTriggersRetry(t *testing.T) {
	m, d, fc, rec := newTestManager(t, testConfig(5))

	m.Connect()
	waitState(t, m, Connected)

	d.lastSession().drop(errTransportClose)
	waitState(t, m, Disconnected)
	require.Eventually(t, fc.HasWaiters, waitFor, tick)
	assert.Zero(t, m.State().Attempts)
	require.Eventually(t, func() bool { return rec.countErr(errTransportClose) == 1 }, waitFor, tick)

	fc.Step(delay)
	waitState(t, m, Connected)
	assert.Equal(t, 2, d.dialCount())
}

func TestNoRetryWhenReconnectDisabled(t *testing.T) {
	cfg := testConfig(5)
	cfg.Reconnect = false
	m, d, fc, _ := newTestManager(t, cfg)
	d.setFail(errors.New("unreachable"))

	m.Connect()
	require.Eventually(t, func() bool { return m.State().Attempts == 1 }, waitFor, tick)
	assert.False(t, fc.HasWaiters())
}

func TestPublish(t *testing.T) {
	m, d, _, _ := newTestManager(t, testConfig(5))

	err := m.Publish(context.Background(), KindRequestStatus, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Connect()
	waitState(t, m, Connected)
	require.NoError(t, m.Publish(context.Background(), KindRequestStatus, []byte(`{"lot":1}`)))

	sess := d.lastSession()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.published, 1)
	assert.Equal(t, KindRequestStatus, sess.published[0].Kind)
}

func TestEventsSurvivePanickingHandler(t *testing.T) {
	m, d, _, rec := newTestManager(t, testConfig(5))
	m.AddHandlers(Handlers{OnEvent: func(Message) { panic("boom") }})
	after := &recorder{}
	m.AddHandlers(after.handlers())

	m.Connect()
	waitState(t, m, Connected)

	assert.NotPanics(t, func() {
		d.emit(Message{Kind: KindSpotUpdate, Payload: []byte(`{}`)})
	})
	require.Eventually(t, func() bool { return after.eventCount() == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.eventCount())
}

func TestHandlerMayCallManager(t *testing.T) {
	m, d, _, _ := newTestManager(t, testConfig(5))
	published := make(chan error, 1)
	m.AddHandlers(Handlers{OnStatusChange: func(s ConnectionState) {
		if s.State == Connected {
			published <- m.Publish(context.Background(), KindRequestStatus, nil)
		}
	}})

	m.Connect()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("handler never ran")
	}
	assert.NotNil(t, d.lastSession())
}
