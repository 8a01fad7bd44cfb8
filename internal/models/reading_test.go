// internal/models/reading_test.go
package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSensorReading_IsValid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		reading  SensorReading
		expected bool
	}{
		{
			name:     "valid reading",
			reading:  NewSensorReading(now, 22, 65, 5, 80),
			expected: true,
		},
		{
			name:     "humidity above 100 is still a number",
			reading:  NewSensorReading(now, 22, 101, 5, 80),
			expected: true,
		},
		{
			name:     "zero timestamp",
			reading:  NewSensorReading(time.Time{}, 22, 65, 5, 80),
			expected: false,
		},
		{
			name:     "NaN indoor temperature",
			reading:  NewSensorReading(now, math.NaN(), 65, 5, 80),
			expected: false,
		},
		{
			name:     "infinite outdoor humidity",
			reading:  NewSensorReading(now, 22, 65, 5, math.Inf(1)),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reading.IsValid(); got != tt.expected {
				t.Errorf("IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSensorReading_String(t *testing.T) {
	r := NewSensorReading(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 22, 65, 5, 80)

	s := r.String()
	if !strings.Contains(s, "22.0°C/65.0%") {
		t.Errorf("String() = %q, missing indoor values", s)
	}
	if !strings.Contains(s, "2024-01-01T12:00:00Z") {
		t.Errorf("String() = %q, missing timestamp", s)
	}
}

func TestSensorReading_JSONFieldNames(t *testing.T) {
	r := NewSensorReading(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 22, 65, 5, 80)

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for _, key := range []string{"indoor_temp", "indoor_humidity", "outdoor_temp", "outdoor_humidity"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("JSON %s missing key %s", data, key)
		}
	}
}
