package sampler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]string

func (m mapSource) State(entity string) (string, bool) {
	v, ok := m[entity]
	return v, ok
}

var refs = SensorRefs{
	IndoorTemp:      "sensor.cellar_temperature",
	IndoorHumidity:  "sensor.cellar_humidity",
	OutdoorTemp:     "sensor.garden_temperature",
	OutdoorHumidity: "sensor.garden_humidity",
}

func validSource() mapSource {
	return mapSource{
		refs.IndoorTemp:      "22",
		refs.IndoorHumidity:  "65",
		refs.OutdoorTemp:     "5.0",
		refs.OutdoorHumidity: " 80 ",
	}
}

func TestRead(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	r, err := Read(validSource(), refs, now)
	require.NoError(t, err)
	assert.Equal(t, now, r.Timestamp)
	assert.Equal(t, 22.0, r.IndoorTemp)
	assert.Equal(t, 65.0, r.IndoorHumidity)
	assert.Equal(t, 5.0, r.OutdoorTemp)
	assert.Equal(t, 80.0, r.OutdoorHumidity)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(mapSource)
		entity string
		want   error
	}{
		{
			name:   "missing entity",
			mutate: func(m mapSource) { delete(m, refs.OutdoorTemp) },
			entity: refs.OutdoorTemp,
			want:   ErrSensorUnavailable,
		},
		{
			name:   "unavailable state",
			mutate: func(m mapSource) { m[refs.IndoorHumidity] = "unavailable" },
			entity: refs.IndoorHumidity,
			want:   ErrSensorUnavailable,
		},
		{
			name:   "unknown state",
			mutate: func(m mapSource) { m[refs.IndoorTemp] = "Unknown" },
			entity: refs.IndoorTemp,
			want:   ErrSensorUnavailable,
		},
		{
			name:   "empty state",
			mutate: func(m mapSource) { m[refs.OutdoorHumidity] = "" },
			entity: refs.OutdoorHumidity,
			want:   ErrSensorUnavailable,
		},
		{
			name:   "not a number",
			mutate: func(m mapSource) { m[refs.IndoorTemp] = "warm" },
			entity: refs.IndoorTemp,
			want:   ErrSensorInvalid,
		},
		{
			name:   "NaN",
			mutate: func(m mapSource) { m[refs.OutdoorTemp] = "NaN" },
			entity: refs.OutdoorTemp,
			want:   ErrSensorInvalid,
		},
		{
			name:   "infinity",
			mutate: func(m mapSource) { m[refs.IndoorHumidity] = "+Inf" },
			entity: refs.IndoorHumidity,
			want:   ErrSensorInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSource()
			tt.mutate(src)

			_, err := Read(src, refs, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var sensorErr *SensorError
			require.True(t, errors.As(err, &sensorErr))
			assert.Equal(t, tt.entity, sensorErr.Entity)
		})
	}
}
