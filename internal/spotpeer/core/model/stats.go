package model

import "github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"

// Stats is the per-status breakdown of a merged view. Total always equals
// Available+Occupied+Reserved+Maintenance+Unrecognized.
type Stats struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	Occupied     int `json:"occupied"`
	Reserved     int `json:"reserved"`
	Maintenance  int `json:"maintenance"`
	Unrecognized int `json:"unrecognized"`
}

// Sum returns the sum of all per-status counters.
func (s Stats) Sum() int {
	return s.Available + s.Occupied + s.Reserved + s.Maintenance + s.Unrecognized
}

// Count returns the counter for st.
func (s Stats) Count(st status.Status) int {
	switch st {
	case status.Available:
		return s.Available
	case status.Occupied:
		return s.Occupied
	case status.Reserved:
		return s.Reserved
	case status.Maintenance:
		return s.Maintenance
	default:
		return s.Unrecognized
	}
}
