package models

import (
	"fmt"
	"math"
	"time"
)

// SensorReading holds one accepted set of indoor and outdoor conditions.
// All four values are present or the reading does not exist.
type SensorReading struct {
	Timestamp       time.Time `json:"timestamp"`
	IndoorTemp      float64   `json:"indoor_temp"`
	IndoorHumidity  float64   `json:"indoor_humidity"`
	OutdoorTemp     float64   `json:"outdoor_temp"`
	OutdoorHumidity float64   `json:"outdoor_humidity"`
}

// NewSensorReading creates a reading stamped with the given time
func NewSensorReading(at time.Time, indoorTemp, indoorHumidity, outdoorTemp, outdoorHumidity float64) SensorReading {
	return SensorReading{
		Timestamp:       at,
		IndoorTemp:      indoorTemp,
		IndoorHumidity:  indoorHumidity,
		OutdoorTemp:     outdoorTemp,
		OutdoorHumidity: outdoorHumidity,
	}
}

// IsValid checks that every value is a finite number and the timestamp is set
func (r SensorReading) IsValid() bool {
	if r.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{r.IndoorTemp, r.IndoorHumidity, r.OutdoorTemp, r.OutdoorHumidity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String returns the reading in a log friendly form
func (r SensorReading) String() string {
	return fmt.Sprintf("Indoor: %.1f°C/%.1f%%, Outdoor: %.1f°C/%.1f%%, Timestamp: %s",
		r.IndoorTemp,
		r.IndoorHumidity,
		r.OutdoorTemp,
		r.OutdoorHumidity,
		r.Timestamp.Format(time.RFC3339))
}
