package models

import "time"

// Status is the observable state of a unit as exposed to the host
// and to dashboards. Optional values are nil until known.
type Status struct {
	UnitID                 string         `json:"unit_id"`
	Name                   string         `json:"name"`
	Level                  Level          `json:"level"`
	Enabled                bool           `json:"enabled"`
	TwoSpeed               bool           `json:"two_speed"`
	NumberOfSamples        int            `json:"number_of_samples"`
	SampleCapacity         int            `json:"sample_capacity"`
	LowestSample           *float64       `json:"lowest_sample"`
	Target                 *float64       `json:"target"`
	TargetHumidity         *float64       `json:"target_humidity"`
	MinOnTimer             *time.Time     `json:"min_on_timer"`
	MaxOnTimer             *time.Time     `json:"max_on_timer"`
	MinHumidity            float64        `json:"min_humidity"`
	DewPoint               *float64       `json:"dew_point"`
	OutdoorDewPoint        *float64       `json:"outdoor_dew_point"`
	Delta                  *float64       `json:"delta"`
	AbsoluteHumidity       *float64       `json:"absolute_humidity"`
	RecommendedMaxHumidity *float64       `json:"recommended_max_humidity"`
	LastReading            *SensorReading `json:"last_reading,omitempty"`
	LastRule               Rule           `json:"last_rule,omitempty"`
	LastError              string         `json:"last_error,omitempty"`
	LastUpdate             time.Time      `json:"last_update"`
}

// Running reports whether the unit's fan is on
func (s Status) Running() bool {
	return s.Level.Running()
}
