// Package service owns the merged occupancy view of the active lot. It wires
// the snapshot fetcher, the live event store and the push channel together
// and exposes the read and subscription surface.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/spotpeer/internal/pkg/metrics"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/aggregate"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/livestore"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/reconcile"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/snapshot"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

var (
	// ErrLotNotSelected is returned when no lot is active or a query names a
	// lot other than the active one.
	ErrLotNotSelected = errors.New("lot not selected")

	// ErrStaleSnapshot is returned by Refresh when the active lot changed
	// while the fetch was in flight. The result is discarded.
	ErrStaleSnapshot = errors.New("snapshot superseded by lot change")
)

// Reasons attached to a Change.
const (
	ReasonSelect   = "select"
	ReasonSnapshot = "snapshot"
	ReasonLive     = "live"
)

// Channel is the push channel surface the view needs.
type Channel interface {
	Connect()
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, kind string, payload []byte) error
	State() connection.ConnectionState
	AddHandlers(h connection.Handlers)
}

// Change describes a recomputed view, delivered to subscribers.
type Change struct {
	Lot    model.LotID `json:"parkingLotId"`
	Reason string      `json:"reason"`
	Stats  model.Stats `json:"stats"`
	At     time.Time   `json:"at"`
}

// Config tunes the view.
type Config struct {
	// FetchTimeout bounds every snapshot fetch.
	FetchTimeout time.Duration
	// RefreshInterval triggers periodic refreshes from Run. Zero disables them.
	RefreshInterval time.Duration
}

// Option customizes a View.
type Option func(*View)

// WithClock sets the clock used for timestamps and the refresh ticker.
func WithClock(c clock.WithTicker) Option {
	return func(v *View) { v.clock = c }
}

// WithLogger sets the view logger.
func WithLogger(l log.Logger) Option {
	return func(v *View) { v.logger = l }
}

// View is the reconciliation engine's owner. Baseline, merged view and
// statistics live behind mu; the live store has its own lock.
type View struct {
	fetcher snapshot.Fetcher
	channel Channel
	cfg     Config
	clock   clock.WithTicker
	logger  log.Logger
	store   *livestore.Store
	flight  singleflight.Group

	mu          sync.RWMutex
	lot         model.LotID
	seq         uint64
	cancelFetch context.CancelFunc
	baseline    []model.Spot
	fetchedAt   time.Time
	loaded      bool
	fetchErr    error
	merged      []model.MergedSpot
	stats       model.Stats
	lotStats    map[model.LotID]model.LotStatsReport
	sensors     map[string]model.SensorReading
	subs        map[uint64]func(Change)
	nextSub     uint64
}

// New returns a view with no active lot and registers it on channel.
func New(fetcher snapshot.Fetcher, channel Channel, cfg Config, opts ...Option) *View {
	v := &View{
		fetcher:  fetcher,
		channel:  channel,
		cfg:      cfg,
		clock:    clock.RealClock{},
		logger:   log.NewNopLogger(),
		store:    livestore.New(),
		lotStats: make(map[model.LotID]model.LotStatsReport),
		sensors:  make(map[string]model.SensorReading),
		subs:     make(map[uint64]func(Change)),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithName("view")

	channel.AddHandlers(connection.Handlers{
		OnStatusChange: v.onStatusChange,
		OnEvent: func(msg connection.Message) {
			_ = v.HandleEvent(msg)
		},
		OnError: func(err error) {
			if errors.Is(err, connection.ErrReconnectExhausted) {
				v.logger.Error(err, "Live updates stopped; reconnect manually")
				return
			}
			v.logger.Warn("Push channel error", "error", err.Error())
		},
	})

	return v
}

// Run opens the push channel and refreshes the active lot every
// RefreshInterval until ctx is done, then closes the channel.
func (v *View) Run(ctx context.Context) error {
	v.channel.Connect()

	var tick <-chan time.Time
	if v.cfg.RefreshInterval > 0 {
		ticker := v.clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return v.channel.Disconnect(shutdownCtx)
		case <-tick:
			if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrLotNotSelected) {
				v.logger.Warn("Periodic refresh failed", "error", err.Error())
			}
		}
	}
}

// Select makes lot the active lot, discards the previous baseline, cancels
// any fetch in flight and loads the new baseline.
func (v *View) Select(ctx context.Context, lot model.LotID) error {
	if lot <= 0 {
		return fmt.Errorf("invalid lot id %d", lot)
	}

	v.mu.Lock()
	if v.cancelFetch != nil {
		v.cancelFetch()
		v.cancelFetch = nil
	}
	v.seq++
	v.lot = lot
	v.baseline = nil
	v.fetchedAt = time.Time{}
	v.loaded = false
	v.fetchErr = nil
	change := v.recomputeLocked(ReasonSelect)
	v.mu.Unlock()

	v.logger.Info("Selected lot", "lot", lot)
	v.publish(change)

	if err := v.RequestStatus(ctx); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		v.logger.Warn("Status request failed", "lot", lot, "error", err.Error())
	}
	return v.Refresh(ctx)
}

// Refresh reloads the baseline of the active lot. Concurrent calls for the
// same selection share one fetch. ctx only bounds the wait; the fetch itself
// is bounded by FetchTimeout and cancelled by Select.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.RLock()
	lot, seq := v.lot, v.seq
	v.mu.RUnlock()
	if lot == 0 {
		return ErrLotNotSelected
	}

	key := fmt.Sprintf("%d/%d", lot, seq)
	ch := v.flight.DoChan(key, func() (any, error) {
		return nil, v.refresh(lot, seq)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &snapshot.TransportError{Op: "refresh", Err: ctx.Err()}
	}
}

func (v *View) refresh(lot model.LotID, seq uint64) error {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if v.cfg.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), v.cfg.FetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	v.mu.Lock()
	if v.seq != seq {
		v.mu.Unlock()
		return ErrStaleSnapshot
	}
	v.cancelFetch = cancel
	v.mu.Unlock()

	start := v.clock.Now()
	spots, err := v.fetcher.FetchByLot(ctx, lot)
	metrics.SnapshotFetchLatency.Observe(v.clock.Since(start).Seconds())

	v.mu.Lock()
	if v.seq != seq {
		v.mu.Unlock()
		metrics.SnapshotFetchTotal.WithLabelValues("stale").Inc()
		v.logger.Debug("Discarding stale snapshot", "lot", lot)
		return ErrStaleSnapshot
	}
	v.cancelFetch = nil
	if err != nil {
		v.fetchErr = err
		v.mu.Unlock()
		metrics.SnapshotFetchTotal.WithLabelValues(fetchResult(err)).Inc()
		v.logger.Error(err, "Snapshot fetch failed", "lot", lot)
		return err
	}

	v.baseline = spots
	v.fetchedAt = v.clock.Now()
	v.loaded = true
	v.fetchErr = nil
	change := v.recomputeLocked(ReasonSnapshot)
	v.mu.Unlock()

	metrics.SnapshotFetchTotal.WithLabelValues("success").Inc()
	v.logger.Info("Snapshot loaded", "lot", lot, "spots", len(spots), "available", change.Stats.Available)
	v.publish(change)
	return nil
}

func fetchResult(err error) string {
	var de *snapshot.DataError
	if errors.As(err, &de) {
		return "data_error"
	}
	return "transport_error"
}

// RequestStatus asks the backend to re-broadcast the current state of the
// active lot over the push channel.
func (v *View) RequestStatus(ctx context.Context) error {
	v.mu.RLock()
	lot := v.lot
	v.mu.RUnlock()
	if lot == 0 {
		return ErrLotNotSelected
	}

	payload, err := json.Marshal(map[string]any{
		"parkingLotId": lot,
		"timestamp":    v.clock.Now(),
	})
	if err != nil {
		return err
	}
	return v.channel.Publish(ctx, connection.KindRequestStatus, payload)
}

// HandleEvent applies one inbound push message.
func (v *View) HandleEvent(msg connection.Message) error {
	now := v.clock.Now()

	switch msg.Kind {
	case connection.KindSpotUpdate:
		e, err := decodeSpotUpdate(msg.Payload, now)
		if err != nil {
			result := "malformed"
			if errors.Is(err, status.ErrUnrecognized) {
				result = "unrecognized"
			}
			metrics.EventsTotal.WithLabelValues(msg.Kind, result).Inc()
			v.logger.Warn("Dropping spot update", "error", err.Error())
			return err
		}
		v.store.Apply(e)
		metrics.EventsTotal.WithLabelValues(msg.Kind, "applied").Inc()

		v.mu.Lock()
		if e.LotID != v.lot {
			v.mu.Unlock()
			return nil
		}
		change := v.recomputeLocked(ReasonLive)
		v.mu.Unlock()
		v.publish(change)

	case connection.KindLotStatsUpdate:
		r, err := decodeLotStats(msg.Payload, now)
		if err != nil {
			metrics.EventsTotal.WithLabelValues(msg.Kind, "malformed").Inc()
			v.logger.Warn("Dropping lot stats", "error", err.Error())
			return err
		}
		v.mu.Lock()
		v.lotStats[r.LotID] = r
		v.mu.Unlock()
		metrics.EventsTotal.WithLabelValues(msg.Kind, "applied").Inc()

	case connection.KindSensorUpdate:
		r, err := decodeSensorUpdate(msg.Payload, now)
		if err != nil {
			metrics.EventsTotal.WithLabelValues(msg.Kind, "malformed").Inc()
			v.logger.Warn("Dropping sensor update", "error", err.Error())
			return err
		}
		v.mu.Lock()
		v.sensors[r.SensorID] = r
		v.mu.Unlock()
		metrics.EventsTotal.WithLabelValues(msg.Kind, "applied").Inc()

	default:
		metrics.EventsTotal.WithLabelValues(msg.Kind, "ignored").Inc()
		v.logger.Debug("Ignoring push message", "kind", msg.Kind)
	}
	return nil
}

func (v *View) onStatusChange(s connection.ConnectionState) {
	if s.State != connection.Connected {
		return
	}
	// Catch up on anything missed while disconnected.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := v.RequestStatus(ctx); err != nil && !errors.Is(err, ErrLotNotSelected) {
			v.logger.Warn("Status request failed", "error", err.Error())
		}
		if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrLotNotSelected) {
			v.logger.Warn("Refresh after connect failed", "error", err.Error())
		}
	}()
}

// recomputeLocked rebuilds the merged view and statistics. Called with mu held.
func (v *View) recomputeLocked(reason string) Change {
	live := v.store.ByLot(v.lot)
	v.merged = reconcile.Merge(v.baseline, live, v.lot, v.fetchedAt)
	v.stats = aggregate.Aggregate(v.merged)

	for _, st := range status.All {
		metrics.Spots.WithLabelValues(st.String()).Set(float64(v.stats.Count(st)))
	}
	metrics.Spots.WithLabelValues(status.Unrecognized.String()).Set(float64(v.stats.Unrecognized))
	metrics.UnmatchedLiveEvents.Set(float64(reconcile.Unmatched(v.baseline, live, v.lot)))

	return Change{Lot: v.lot, Reason: reason, Stats: v.stats, At: v.clock.Now()}
}

// Subscribe registers fn to be called after every recomputation. The
// returned function removes the subscription.
func (v *View) Subscribe(fn func(Change)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

func (v *View) publish(c Change) {
	v.mu.RLock()
	subs := make([]func(Change), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					v.logger.Error(fmt.Errorf("%v", r), "View subscriber panicked")
				}
			}()
			fn(c)
		}()
	}
}
