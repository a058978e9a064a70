package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/spotpeer/internal/pkg/metrics"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/snapshot"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeChannel struct {
	mu          sync.Mutex
	handlers    []connection.Handlers
	state       connection.State
	published   []connection.Message
	connects    int
	disconnects int
}

func (c *fakeChannel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
}

func (c *fakeChannel) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.state = connection.Disconnected
	return nil
}

func (c *fakeChannel) Publish(_ context.Context, kind string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connection.Connected {
		return connection.ErrNotConnected
	}
	c.published = append(c.published, connection.Message{Kind: kind, Payload: payload})
	return nil
}

func (c *fakeChannel) State() connection.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return connection.ConnectionState{State: c.state}
}

func (c *fakeChannel) AddHandlers(h connection.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *fakeChannel) setConnected() {
	c.mu.Lock()
	c.state = connection.Connected
	hs := append([]connection.Handlers(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h.OnStatusChange(connection.ConnectionState{State: connection.Connected})
	}
}

func (c *fakeChannel) emit(kind, payload string) {
	c.mu.Lock()
	hs := append([]connection.Handlers(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h.OnEvent(connection.Message{Kind: kind, Payload: []byte(payload)})
	}
}

func (c *fakeChannel) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	spots map[model.LotID][]model.Spot
	err   error
	gates map[model.LotID]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{spots: map[model.LotID][]model.Spot{}, gates: map[model.LotID]chan struct{}{}}
}

func (f *fakeFetcher) FetchByLot(ctx context.Context, lot model.LotID) ([]model.Spot, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[lot]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &snapshot.TransportError{Op: "fetch", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Spot(nil), f.spots[lot]...), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func lotTen() []model.Spot {
	return []model.Spot{
		{ID: 1, Code: "A1", Floor: "1", LotID: 10, Status: status.Available},
		{ID: 2, Code: "A2", Floor: "1", LotID: 10, Status: status.Occupied},
		{ID: 3, Code: "B1", Floor: "2", LotID: 10, Status: status.Occupied},
		{ID: 4, Code: "B2", Floor: "2", LotID: 10, Status: status.Reserved},
		{ID: 5, Code: "A3", Floor: "1", LotID: 10, Status: status.Maintenance},
	}
}

func newTestView(t *testing.T) (*View, *fakeFetcher, *fakeChannel, *testingclock.FakeClock) {
	t.Helper()
	f := newFakeFetcher()
	f.spots[10] = lotTen()
	f.spots[20] = []model.Spot{{ID: 100, Code: "Z1", Floor: "G", LotID: 20, Status: status.Available}}
	ch := &fakeChannel{state: connection.Disconnected}
	fc := testingclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	v := New(f, ch, Config{FetchTimeout: time.Second, RefreshInterval: time.Minute}, WithClock(fc))
	return v, f, ch, fc
}

func TestSelectLoadsBaseline(t *testing.T) {
	v, _, _, _ := newTestView(t)

	require.NoError(t, v.Select(context.Background(), 10))

	st, err := v.Stats(10)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 5, Available: 1, Occupied: 2, Reserved: 1, Maintenance: 1}, st)
	for _, s := range status.All {
		assert.Equal(t, float64(st.Count(s)), testutil.ToFloat64(metrics.Spots.WithLabelValues(s.String())), s.String())
	}

	floors, err := v.Floors(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, floors)

	assert.True(t, v.Baseline().Loaded)
	lot, ok := v.ActiveLot()
	assert.True(t, ok)
	assert.Equal(t, model.LotID(10), lot)
}

func TestQueriesRequireActiveLot(t *testing.T) {
	v, _, _, _ := newTestView(t)

	_, err := v.Stats(10)
	assert.ErrorIs(t, err, ErrLotNotSelected)
	assert.ErrorIs(t, v.Refresh(context.Background()), ErrLotNotSelected)

	require.NoError(t, v.Select(context.Background(), 10))
	_, err = v.MergedView(20, Filter{})
	assert.ErrorIs(t, err, ErrLotNotSelected)

	assert.Error(t, v.Select(context.Background(), 0))
}

func TestLiveEventOverridesBaseline(t *testing.T) {
	v, _, ch, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":1,"newStatus":"OCUPADO","oldStatus":"LIBRE","parkingLotId":10,
		"sensorData":{"sensorId":"cam-1","confidence":0.9,"detectionMethod":"camera"}},"timestamp":"2026-03-01T12:00:30Z"}`)

	st, err := v.Stats(10)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Available)
	assert.Equal(t, 3, st.Occupied)

	spots, err := v.MergedView(10, Filter{Floor: "1"})
	require.NoError(t, err)
	require.Len(t, spots, 3)
	assert.True(t, spots[0].IsLive)
	assert.Equal(t, status.Occupied, spots[0].Status)
	require.NotNil(t, spots[0].Sensor)
	assert.Equal(t, "cam-1", spots[0].Sensor.SensorID)
	assert.True(t, v.HasLiveUpdates())
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC), v.LastUpdate())
}

func TestLiveEventForOtherLotIgnored(t *testing.T) {
	v, _, ch, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))
	before, _ := v.MergedView(10, Filter{})

	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":1,"newStatus":"occupied","parkingLotId":99},"timestamp":"2026-03-01T12:00:30Z"}`)

	after, err := v.MergedView(10, Filter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSameSpotIDInOtherLotKeepsLiveStatus(t *testing.T) {
	v, _, ch, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":1,"newStatus":"OCUPADO","parkingLotId":10}}`)
	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":1,"newStatus":"LIBRE","parkingLotId":99}}`)
	require.NoError(t, v.Refresh(context.Background()))

	spots, err := v.MergedView(10, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, spots)
	assert.Equal(t, model.SpotID(1), spots[0].ID)
	assert.True(t, spots[0].IsLive)
	assert.Equal(t, status.Occupied, spots[0].Status)
}

func TestRefreshWaitExpiryIsTransportError(t *testing.T) {
	v, f, _, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	gate := make(chan struct{})
	defer close(gate)
	f.mu.Lock()
	f.gates[10] = gate
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := v.Refresh(ctx)

	var te *snapshot.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "refresh", te.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnmatchedEventAppliesAfterLaterSnapshot(t *testing.T) {
	v, f, ch, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	ch.emit(connection.KindSpotUpdate, `{"data":{"code":"C9","newStatus":"MANTENIMIENTO","parkingLotId":10}}`)
	st, _ := v.Stats(10)
	assert.Equal(t, 5, st.Total)

	f.mu.Lock()
	f.spots[10] = append(f.spots[10], model.Spot{ID: 9, Code: "C9", Floor: "3", LotID: 10, Status: status.Available})
	f.mu.Unlock()
	require.NoError(t, v.Refresh(context.Background()))

	st, _ = v.Stats(10)
	assert.Equal(t, 6, st.Total)
	assert.Equal(t, 2, st.Maintenance)
}

func TestHandleEventRejectsBadPayloads(t *testing.T) {
	v, _, _, _ := newTestView(t)

	tests := []struct {
		name    string
		msg     connection.Message
		wantErr error
	}{
		{name: "not json", msg: connection.Message{Kind: connection.KindSpotUpdate, Payload: []byte(`{`)}, wantErr: ErrMalformedEvent},
		{name: "no lot", msg: connection.Message{Kind: connection.KindSpotUpdate, Payload: []byte(`{"data":{"spotId":1,"newStatus":"LIBRE"}}`)}, wantErr: ErrMalformedEvent},
		{name: "no identity", msg: connection.Message{Kind: connection.KindSpotUpdate, Payload: []byte(`{"data":{"parkingLotId":10,"newStatus":"LIBRE"}}`)}, wantErr: ErrMalformedEvent},
		{name: "unknown status", msg: connection.Message{Kind: connection.KindSpotUpdate, Payload: []byte(`{"data":{"spotId":1,"parkingLotId":10,"newStatus":"broken"}}`)}, wantErr: status.ErrUnrecognized},
		{name: "lot stats without lot", msg: connection.Message{Kind: connection.KindLotStatsUpdate, Payload: []byte(`{"stats":{}}`)}, wantErr: ErrMalformedEvent},
		{name: "sensor without id", msg: connection.Message{Kind: connection.KindSensorUpdate, Payload: []byte(`{"data":{"spotId":1}}`)}, wantErr: ErrMalformedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.HandleEvent(tt.msg), tt.wantErr)
		})
	}
	assert.False(t, v.HasLiveUpdates())
	assert.NoError(t, v.HandleEvent(connection.Message{Kind: "connect"}))
}

func TestLotStatsAndSensors(t *testing.T) {
	v, _, ch, fc := newTestView(t)

	ch.emit(connection.KindLotStatsUpdate, `{"parkingLotId":10,"stats":{"available":4}}`)
	ch.emit(connection.KindSensorUpdate, `{"data":{"sensorId":"cam-1","spotId":1,"distance":12},"timestamp":"2026-03-01T11:00:00Z"}`)

	r, ok := v.LotStats(10)
	require.True(t, ok)
	assert.JSONEq(t, `{"available":4}`, string(r.Stats))
	assert.Equal(t, fc.Now(), r.Timestamp)

	s, ok := v.Sensor("cam-1")
	require.True(t, ok)
	assert.Equal(t, model.SpotID(1), s.SpotID)
	assert.JSONEq(t, `{"sensorId":"cam-1","spotId":1,"distance":12}`, string(s.Data))

	_, ok = v.Sensor("cam-2")
	assert.False(t, ok)
}

func TestFetchFailureKeepsPreviousBaseline(t *testing.T) {
	v, f, _, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	f.mu.Lock()
	f.err = &snapshot.TransportError{Op: "fetch", StatusCode: 503}
	f.mu.Unlock()

	err := v.Refresh(context.Background())
	var te *snapshot.TransportError
	require.ErrorAs(t, err, &te)

	st, err := v.Stats(10)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Total)
	assert.NotEmpty(t, v.Baseline().Error)
}

func TestLotSwitchDiscardsLateSnapshot(t *testing.T) {
	v, f, _, _ := newTestView(t)
	gate := make(chan struct{})
	f.gates[10] = gate

	errs := make(chan error, 1)
	go func() { errs <- v.Select(context.Background(), 10) }()
	require.Eventually(t, func() bool { return f.callCount() == 1 }, waitFor, tick)

	require.NoError(t, v.Select(context.Background(), 20))
	close(gate)

	assert.ErrorIs(t, <-errs, ErrStaleSnapshot)

	_, err := v.Stats(10)
	assert.ErrorIs(t, err, ErrLotNotSelected)
	spots, err := v.MergedView(20, Filter{})
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "Z1", spots[0].Code)
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	v, f, _, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[10] = gate
	f.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Refresh(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return f.callCount() == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 2, f.callCount())
}

func TestSubscribe(t *testing.T) {
	v, _, ch, _ := newTestView(t)

	var mu sync.Mutex
	var reasons []string
	unsubscribe := v.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, c.Reason)
	})
	v.Subscribe(func(Change) { panic("subscriber bug") })

	require.NoError(t, v.Select(context.Background(), 10))
	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":2,"newStatus":"LIBRE","parkingLotId":10}}`)
	unsubscribe()
	ch.emit(connection.KindSpotUpdate, `{"data":{"spotId":3,"newStatus":"LIBRE","parkingLotId":10}}`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ReasonSelect, ReasonSnapshot, ReasonLive}, reasons)
}

func TestConnectTriggersStatusRequestAndRefresh(t *testing.T) {
	v, f, ch, _ := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))
	assert.Zero(t, ch.publishedCount(), "request-status needs a connection")

	ch.setConnected()

	require.Eventually(t, func() bool { return ch.publishedCount() == 1 && f.callCount() == 2 }, waitFor, tick)
	assert.Equal(t, connection.KindRequestStatus, ch.published[0].Kind)
	assert.JSONEq(t, `{"parkingLotId":10,"timestamp":"2026-03-01T12:00:00Z"}`, string(ch.published[0].Payload))
	assert.True(t, v.Ready())
}

func TestRunRefreshesPeriodically(t *testing.T) {
	v, f, ch, fc := newTestView(t)
	require.NoError(t, v.Select(context.Background(), 10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	require.Eventually(t, fc.HasWaiters, waitFor, tick)
	fc.Step(time.Minute)
	require.Eventually(t, func() bool { return f.callCount() == 2 }, waitFor, tick)

	cancel()
	require.NoError(t, <-done)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, 1, ch.connects)
	assert.Equal(t, 1, ch.disconnects)
}
