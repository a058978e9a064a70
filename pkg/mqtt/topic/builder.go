package topic

import (
	"fmt"
	"strings"
)

// Topic segments of the spot occupancy protocol. Publishers and spotpeer
// must agree on these values.
const (
	// SuffixSpotUpdate carries per-spot status changes (Backend -> spotpeer).
	// Structure: {root}/spot-update/{lotID}
	SuffixSpotUpdate = "spot-update"

	// SuffixLotStats carries backend-computed lot statistics (Backend -> spotpeer).
	// Structure: {root}/lot-stats-update/{lotID}
	SuffixLotStats = "lot-stats-update"

	// SuffixSensorUpdate carries raw sensor readings (Sensors -> spotpeer).
	// Structure: {root}/sensor-update/{sensorID}
	SuffixSensorUpdate = "sensor-update"

	// SuffixRequestStatus asks the backend to re-broadcast current state (spotpeer -> Backend).
	// Structure: {root}/request-status/{clientID}
	SuffixRequestStatus = "request-status"
)

// TopicBuilder constructs topic strings under a root namespace.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "parking/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Build returns {root}/{suffix}/{id}.
func (b *TopicBuilder) Build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}

// Wildcard returns the filter matching every identifier under suffix.
// Result: {root}/{suffix}/+
func (b *TopicBuilder) Wildcard(suffix string) string {
	return b.Build(suffix, Wildcard)
}

// SpotUpdate returns the spot update topic of a lot.
func (b *TopicBuilder) SpotUpdate(lotID string) string {
	return b.Build(SuffixSpotUpdate, lotID)
}

// RequestStatus returns the topic a client publishes status requests on.
func (b *TopicBuilder) RequestStatus(clientID string) string {
	return b.Build(SuffixRequestStatus, clientID)
}

// Suffix extracts the segment between the root and the trailing identifier.
// It reports false for topics outside the root or without an identifier.
func (b *TopicBuilder) Suffix(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.root+"/")
	if !ok {
		return "", false
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[:i], true
}
