// Package reconcile overlays live push events onto a baseline snapshot.
package reconcile

import (
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
)

// Merge builds the merged view of lot from a baseline snapshot and the live
// entries (keyed as in livestore). For every baseline spot the live entry is
// looked up by id, then by code; it is used only when its lot matches both the
// spot's lot and lot. Otherwise the spot keeps its baseline status and
// fetchedAt becomes its last-update time.
//
// Merge is a pure function of its inputs: it never mutates them and repeated
// calls with equal inputs produce equal output.
func Merge(snapshot []model.Spot, live map[string]model.LiveEvent, lot model.LotID, fetchedAt time.Time) []model.MergedSpot {
	byCode := indexByCode(live, lot)

	merged := make([]model.MergedSpot, 0, len(snapshot))
	for _, s := range snapshot {
		m := model.MergedSpot{Spot: s, LastUpdate: fetchedAt}

		e, ok := live[model.IDKey(s.ID)]
		if !ok {
			e, ok = byCode[s.Code]
		}
		if ok && e.LotID == s.LotID && e.LotID == lot {
			m.Status = e.Status
			m.IsLive = true
			m.LastUpdate = e.Timestamp
			if e.Sensor != nil {
				sensor := *e.Sensor
				m.Sensor = &sensor
			}
		}

		merged = append(merged, m)
	}
	return merged
}

// indexByCode picks one live entry per code among those reported for lot.
// Code-addressed entries win over id-addressed ones, then the newest
// timestamp, then the smallest key, so the result does not depend on map
// iteration order.
func indexByCode(live map[string]model.LiveEvent, lot model.LotID) map[string]model.LiveEvent {
	type candidate struct {
		key string
		e   model.LiveEvent
	}
	best := make(map[string]candidate)

	for k, e := range live {
		if e.Code == "" || e.LotID != lot {
			continue
		}
		cur, ok := best[e.Code]
		if !ok || better(k, e, cur.key, cur.e) {
			best[e.Code] = candidate{key: k, e: e}
		}
	}

	out := make(map[string]model.LiveEvent, len(best))
	for code, c := range best {
		out[code] = c.e
	}
	return out
}

func better(k string, e model.LiveEvent, curKey string, cur model.LiveEvent) bool {
	byCode, curByCode := e.SpotID == 0, cur.SpotID == 0
	if byCode != curByCode {
		return byCode
	}
	if !e.Timestamp.Equal(cur.Timestamp) {
		return e.Timestamp.After(cur.Timestamp)
	}
	return k < curKey
}

// Unmatched counts the live entries reported for lot that match no baseline
// spot by id or code. They stay in the store and apply once a later snapshot
// contains their spot.
func Unmatched(snapshot []model.Spot, live map[string]model.LiveEvent, lot model.LotID) int {
	ids := make(map[model.SpotID]struct{}, len(snapshot))
	codes := make(map[string]struct{}, len(snapshot))
	for _, s := range snapshot {
		ids[s.ID] = struct{}{}
		codes[s.Code] = struct{}{}
	}

	n := 0
	for _, e := range live {
		if e.LotID != lot {
			continue
		}
		if _, ok := ids[e.SpotID]; ok && e.SpotID != 0 {
			continue
		}
		if _, ok := codes[e.Code]; ok && e.Code != "" {
			continue
		}
		n++
	}
	return n
}
