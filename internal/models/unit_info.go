package models

import "time"

// UnitInfo describes a configured ventilation unit
type UnitInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Actuator  string    `json:"actuator"`
	TwoSpeed  bool      `json:"two_speed"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the unit started
func (u *UnitInfo) Uptime() time.Duration {
	return time.Since(u.StartTime)
}

// NewUnitInfo creates a new UnitInfo with the current time as start time
func NewUnitInfo(id, name, actuator, version string, twoSpeed bool) *UnitInfo {
	return &UnitInfo{
		ID:        id,
		Name:      name,
		Actuator:  actuator,
		TwoSpeed:  twoSpeed,
		Version:   version,
		StartTime: time.Now(),
	}
}
