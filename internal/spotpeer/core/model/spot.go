package model

import (
	"strconv"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// SpotID identifies a spot across the REST backend and the push channel.
type SpotID int64

// LotID identifies a parking lot.
type LotID int64

func (id SpotID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id LotID) String() string  { return strconv.FormatInt(int64(id), 10) }

// Spot is a baseline record as returned by the snapshot source.
type Spot struct {
	// ID is the backend primary key.
	ID SpotID `json:"id"`

	// Code is the human-readable label painted on the floor, unique per lot.
	Code string `json:"code"`

	Floor string `json:"floor"`

	LotID LotID `json:"parkingLotId"`

	// Status is the baseline status, already normalized. Unrecognized when the
	// backend returned a label outside the synonym table.
	Status status.Status `json:"status"`

	// RawStatus keeps the label as received, for diagnostics.
	RawStatus string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// MergedSpot is a baseline spot with the live overlay applied. It is a pure
// view and is recomputed on every change to either input.
type MergedSpot struct {
	Spot

	// IsLive is true iff a live event for this spot and lot was used.
	IsLive bool `json:"isLive"`

	// LastUpdate is the live event timestamp, or the snapshot fetch time.
	LastUpdate time.Time `json:"lastUpdate"`

	Sensor *Sensor `json:"sensorData,omitempty"`
}
