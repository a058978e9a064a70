// Package snapshot retrieves the authoritative baseline list of spots for a
// lot from the backend.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// Fetcher returns the complete baseline for a lot, or an error. It never
// returns a partial list.
type Fetcher interface {
	FetchByLot(ctx context.Context, lot model.LotID) ([]model.Spot, error)
}

// TransportError reports a failed request: network error, timeout, a non-2xx
// response or a backend envelope with success=false. It is retryable.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("snapshot %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("snapshot %s: %s", e.Op, e.Message)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataError reports a response that could not be decoded into spots.
type DataError struct {
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot data: %s: %v", e.Reason, e.Err)
	}
	return "snapshot data: " + e.Reason
}

func (e *DataError) Unwrap() error { return e.Err }

// record is one spot as carried by either backend before validation.
type record struct {
	ID        *int64     `json:"id"`
	Code      *string    `json:"code"`
	Floor     floorValue `json:"floor"`
	LotID     *int64     `json:"parkingLotId"`
	Status    *string    `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// floorValue accepts a floor sent either as a JSON string or as a number.
type floorValue string

func (f *floorValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = floorValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("floor: %w", err)
	}
	*f = floorValue(n.String())
	return nil
}

// toSpots validates records and normalizes their status. Unknown status labels
// are kept as status.Unrecognized. A record from another lot or with a missing
// id, code or status fails the whole batch.
func toSpots(records []record, lot model.LotID) ([]model.Spot, error) {
	spots := make([]model.Spot, 0, len(records))
	for i, r := range records {
		if r.ID == nil || r.Code == nil || r.Status == nil {
			return nil, &DataError{Reason: fmt.Sprintf("record %d: missing id, code or status", i)}
		}
		if r.LotID != nil && model.LotID(*r.LotID) != lot {
			return nil, &DataError{Reason: fmt.Sprintf("record %d: lot %d does not match requested lot %s", i, *r.LotID, lot)}
		}

		st, _ := status.Normalize(*r.Status)
		spots = append(spots, model.Spot{
			ID:        model.SpotID(*r.ID),
			Code:      *r.Code,
			Floor:     string(r.Floor),
			LotID:     lot,
			Status:    st,
			RawStatus: *r.Status,
			CreatedAt: r.CreatedAt,
		})
	}
	return spots, nil
}
