// Package aggregate derives statistics and floor groupings from a merged view.
package aggregate

import (
	"sort"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// Aggregate counts merged spots by effective status. Spots whose status is
// outside the canonical set are counted as Unrecognized, so Total always
// equals the sum of the per-status counters.
func Aggregate(merged []model.MergedSpot) model.Stats {
	st := model.Stats{Total: len(merged)}
	for _, m := range merged {
		switch m.Status {
		case status.Available:
			st.Available++
		case status.Occupied:
			st.Occupied++
		case status.Reserved:
			st.Reserved++
		case status.Maintenance:
			st.Maintenance++
		default:
			st.Unrecognized++
		}
	}
	return st
}

// GroupByFloor buckets merged spots by floor, keeping input order inside each
// bucket, and returns the floors sorted ascending.
func GroupByFloor(merged []model.MergedSpot) (map[string][]model.MergedSpot, []string) {
	groups := make(map[string][]model.MergedSpot)
	for _, m := range merged {
		groups[m.Floor] = append(groups[m.Floor], m)
	}

	floors := make([]string, 0, len(groups))
	for f := range groups {
		floors = append(floors, f)
	}
	sort.Strings(floors)

	return groups, floors
}

// Floors returns the distinct floors present in merged, sorted ascending.
func Floors(merged []model.MergedSpot) []string {
	_, floors := GroupByFloor(merged)
	return floors
}

// Filter returns the spots matching floor and st. An empty floor or a nil st
// matches everything.
func Filter(merged []model.MergedSpot, floor string, st *status.Status) []model.MergedSpot {
	out := make([]model.MergedSpot, 0, len(merged))
	for _, m := range merged {
		if floor != "" && m.Floor != floor {
			continue
		}
		if st != nil && m.Status != *st {
			continue
		}
		out = append(out, m)
	}
	return out
}
