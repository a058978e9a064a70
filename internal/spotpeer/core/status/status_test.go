package status

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVocabularyEquivalence(t *testing.T) {
	pairs := []struct {
		spanish string
		english string
		want    Status
	}{
		{"LIBRE", "available", Available},
		{"OCUPADO", "occupied", Occupied},
		{"RESERVADO", "reserved", Reserved},
		{"MANTENIMIENTO", "maintenance", Maintenance},
	}

	for _, p := range pairs {
		t.Run(p.english, func(t *testing.T) {
			es, err := Normalize(p.spanish)
			require.NoError(t, err)
			en, err := Normalize(p.english)
			require.NoError(t, err)

			assert.Equal(t, en, es)
			assert.Equal(t, p.want, es)
			assert.Equal(t, p.english, es.String())
			assert.Equal(t, p.spanish, es.Spanish())
		})
	}
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	for _, raw := range []string{"Libre", "libre", " LIBRE ", "AVAILABLE", "Available"} {
		got, err := Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, Available, got, raw)
	}
}

func TestNormalizeRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "disabled", "unknown", "free", "LIBRES"} {
		got, err := Normalize(raw)
		assert.Equal(t, Unrecognized, got, raw)
		assert.True(t, errors.Is(err, ErrUnrecognized), raw)
		assert.False(t, got.Known())
	}
}

func TestZeroValueIsNotAvailable(t *testing.T) {
	var s Status
	assert.Equal(t, Unrecognized, s)
	assert.NotEqual(t, Available, s)
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(Occupied)
	require.NoError(t, err)
	assert.JSONEq(t, `"occupied"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"RESERVADO"`), &s))
	assert.Equal(t, Reserved, s)

	require.NoError(t, json.Unmarshal([]byte(`"bogus"`), &s))
	assert.Equal(t, Unrecognized, s)

	assert.Error(t, json.Unmarshal([]byte(`12`), &s))
}
