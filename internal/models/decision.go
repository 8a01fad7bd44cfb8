package models

import "time"

// Decision is the outcome of one sampling tick of a unit
type Decision struct {
	UnitID          string         `json:"unit_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Reading         *SensorReading `json:"reading,omitempty"`
	IndoorDewPoint  float64        `json:"indoor_dew_point"`
	OutdoorDewPoint float64        `json:"outdoor_dew_point"`
	Target          *float64       `json:"target,omitempty"`
	Delta           float64        `json:"delta"`
	From            Level          `json:"from"`
	To              Level          `json:"to"`
	Rule            Rule           `json:"rule"`
	MinOnUntil      time.Time      `json:"min_on_until"`
	MaxOnUntil      time.Time      `json:"max_on_until"`
	Samples         int            `json:"samples"`
	Enabled         bool           `json:"enabled"`
	Error           string         `json:"error,omitempty"`
}

// Transitioned reports whether the tick changed the output level
func (d *Decision) Transitioned() bool {
	return d.From != d.To
}

// Failed reports whether the tick was skipped because of a sensor problem
func (d *Decision) Failed() bool {
	return d.Error != ""
}

// Copy returns a deep copy of the Decision
func (d *Decision) Copy() *Decision {
	if d == nil {
		return nil
	}
	c := *d
	if d.Reading != nil {
		r := *d.Reading
		c.Reading = &r
	}
	if d.Target != nil {
		t := *d.Target
		c.Target = &t
	}
	return &c
}

// UnitState is the persisted part of a unit's controller state
type UnitState struct {
	UnitID     string    `json:"unit_id"`
	Level      Level     `json:"level"`
	MinOnUntil time.Time `json:"min_on_until"`
	MaxOnUntil time.Time `json:"max_on_until"`
	Enabled    bool      `json:"enabled"`
	SavedAt    time.Time `json:"saved_at"`
}

// Float returns a pointer to v, for optional attributes
func Float(v float64) *float64 {
	return &v
}
