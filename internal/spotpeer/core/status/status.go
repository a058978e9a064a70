// Package status holds the canonical occupancy enum and the single synonym
// table that translates the vocabularies seen on the wire into it.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognized is returned when a raw status matches no known synonym.
var ErrUnrecognized = errors.New("unrecognized spot status")

// Status is the canonical occupancy state of a spot.
// The zero value is Unrecognized.
type Status uint8

const (
	Unrecognized Status = iota
	Available
	Occupied
	Reserved
	Maintenance
)

// All lists the four recognized statuses in display order.
var All = []Status{Available, Occupied, Reserved, Maintenance}

// synonyms maps lower-cased wire spellings to canonical values. The English
// set is what the REST backend stores, the Spanish set is what the push
// channel emits.
var synonyms = map[string]Status{
	"available":     Available,
	"occupied":      Occupied,
	"reserved":      Reserved,
	"maintenance":   Maintenance,
	"libre":         Available,
	"ocupado":       Occupied,
	"reservado":     Reserved,
	"mantenimiento": Maintenance,
}

var spanish = map[Status]string{
	Available:   "LIBRE",
	Occupied:    "OCUPADO",
	Reserved:    "RESERVADO",
	Maintenance: "MANTENIMIENTO",
}

// Normalize maps raw onto the canonical enum. Matching is case-insensitive and
// ignores surrounding whitespace. A miss yields Unrecognized and an error
// wrapping ErrUnrecognized; it is never coerced to Available.
func Normalize(raw string) (Status, error) {
	if s, ok := synonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s, nil
	}
	return Unrecognized, fmt.Errorf("%w: %q", ErrUnrecognized, raw)
}

// Parse is Normalize for callers that only need a recognized/unrecognized answer.
func Parse(raw string) (Status, bool) {
	s, err := Normalize(raw)
	return s, err == nil
}

// Known reports whether s is one of the four recognized values.
func (s Status) Known() bool {
	return s >= Available && s <= Maintenance
}

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Occupied:
		return "occupied"
	case Reserved:
		return "reserved"
	case Maintenance:
		return "maintenance"
	default:
		return "unrecognized"
	}
}

// Spanish returns the label used by the push channel vocabulary.
func (s Status) Spanish() string {
	if l, ok := spanish[s]; ok {
		return l
	}
	return "DESCONOCIDO"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either vocabulary. An unknown label decodes to
// Unrecognized without failing so a single bad record does not poison a list.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s, _ = Normalize(raw)
	return nil
}
