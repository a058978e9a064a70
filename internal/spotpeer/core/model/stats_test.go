package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

func TestStatsCount(t *testing.T) {
	s := Stats{Total: 15, Available: 1, Occupied: 2, Reserved: 3, Maintenance: 4, Unrecognized: 5}

	counts := make([]int, 0, len(status.All))
	for _, st := range status.All {
		counts = append(counts, s.Count(st))
	}
	assert.Equal(t, []int{1, 2, 3, 4}, counts)
	assert.Equal(t, 5, s.Count(status.Unrecognized))
	assert.Equal(t, s.Total, s.Sum())
}
