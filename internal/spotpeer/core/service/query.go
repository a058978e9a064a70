package service

import (
	"context"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/aggregate"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// Filter narrows MergedView results. Zero values match everything.
type Filter struct {
	Floor  string
	Status *status.Status
}

// Snapshot describes the baseline of the active lot.
type Snapshot struct {
	Lot       model.LotID `json:"parkingLotId"`
	Loaded    bool        `json:"loaded"`
	FetchedAt time.Time   `json:"fetchedAt"`
	Spots     int         `json:"spots"`
	Error     string      `json:"error,omitempty"`
}

// MergedView returns a copy of the merged view of lot.
func (v *View) MergedView(lot model.LotID, f Filter) ([]model.MergedSpot, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.checkLotLocked(lot); err != nil {
		return nil, err
	}
	return aggregate.Filter(v.merged, f.Floor, f.Status), nil
}

// Stats returns the statistics of the merged view of lot.
func (v *View) Stats(lot model.LotID) (model.Stats, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.checkLotLocked(lot); err != nil {
		return model.Stats{}, err
	}
	return v.stats, nil
}

// Floors returns the sorted distinct floors of lot.
func (v *View) Floors(lot model.LotID) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.checkLotLocked(lot); err != nil {
		return nil, err
	}
	return aggregate.Floors(v.merged), nil
}

func (v *View) checkLotLocked(lot model.LotID) error {
	if v.lot == 0 || lot != v.lot {
		return ErrLotNotSelected
	}
	return nil
}

// ActiveLot returns the selected lot, if any.
func (v *View) ActiveLot() (model.LotID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lot, v.lot != 0
}

// Baseline describes the baseline of the active lot.
func (v *View) Baseline() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := Snapshot{Lot: v.lot, Loaded: v.loaded, FetchedAt: v.fetchedAt, Spots: len(v.baseline)}
	if v.fetchErr != nil {
		s.Error = v.fetchErr.Error()
	}
	return s
}

// LotStats returns the last lot-stats-update received for lot. The figures
// are the backend's and are not used by the view.
func (v *View) LotStats(lot model.LotID) (model.LotStatsReport, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.lotStats[lot]
	return r, ok
}

// Sensor returns the last sensor-update received for sensorID.
func (v *View) Sensor(sensorID string) (model.SensorReading, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.sensors[sensorID]
	return r, ok
}

// Connection returns the push channel state.
func (v *View) Connection() connection.ConnectionState {
	return v.channel.State()
}

// Connect opens the push channel, resetting the reconnect budget.
func (v *View) Connect() {
	v.channel.Connect()
}

// Disconnect closes the push channel until Connect is called.
func (v *View) Disconnect(ctx context.Context) error {
	return v.channel.Disconnect(ctx)
}

// HasLiveUpdates reports whether any live event has been received.
func (v *View) HasLiveUpdates() bool {
	return v.store.Len() > 0
}

// LastUpdate returns the newest live event timestamp.
func (v *View) LastUpdate() time.Time {
	return v.store.LastUpdate()
}

// Ready reports whether the channel is connected and a baseline is loaded.
func (v *View) Ready() bool {
	v.mu.RLock()
	loaded := v.loaded
	v.mu.RUnlock()
	return loaded && v.channel.State().State == connection.Connected
}
