package sampler

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

var (
	// ErrSensorUnavailable means the entity has no current value
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrSensorInvalid means the entity has a value that is not a finite number
	ErrSensorInvalid = errors.New("sensor value invalid")
)

// SensorError ties a sensor failure to the entity that caused it
type SensorError struct {
	Entity string
	Value  string
	Err    error
}

func (e *SensorError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %v (%q)", e.Entity, e.Err, e.Value)
	}
	return fmt.Sprintf("%s: %v", e.Entity, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// SensorSource answers the current state of an entity.
// known is false when the source has never seen the entity.
type SensorSource interface {
	State(entity string) (value string, known bool)
}

// SensorRefs names the four entities a unit reads every tick
type SensorRefs struct {
	IndoorTemp      string `yaml:"sensor_indoor_temp"`
	IndoorHumidity  string `yaml:"sensor_indoor_humidity"`
	OutdoorTemp     string `yaml:"sensor_outdoor_temp"`
	OutdoorHumidity string `yaml:"sensor_outdoor_humidity"`
}

// Entities returns the refs in reading order
func (r SensorRefs) Entities() []string {
	return []string{r.IndoorTemp, r.IndoorHumidity, r.OutdoorTemp, r.OutdoorHumidity}
}

func readValue(src SensorSource, entity string) (float64, error) {
	raw, known := src.State(entity)
	raw = strings.TrimSpace(raw)
	if !known || raw == "" || strings.EqualFold(raw, "unknown") || strings.EqualFold(raw, "unavailable") {
		return 0, &SensorError{Entity: entity, Err: ErrSensorUnavailable}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &SensorError{Entity: entity, Value: raw, Err: ErrSensorInvalid}
	}
	return v, nil
}

// Read resolves all four refs into a reading. Either every value is
// accepted or an error is returned.
func Read(src SensorSource, refs SensorRefs, now time.Time) (models.SensorReading, error) {
	var values [4]float64
	for i, entity := range refs.Entities() {
		v, err := readValue(src, entity)
		if err != nil {
			return models.SensorReading{}, err
		}
		values[i] = v
	}
	return models.NewSensorReading(now, values[0], values[1], values[2], values[3]), nil
}
