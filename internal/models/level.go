package models

import "fmt"

// Level is the ventilation output commanded by a unit
type Level uint8

const (
	LevelOff Level = iota
	LevelLow
	LevelHigh
	// LevelOn is the only running level of a single-speed unit
	LevelOn
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelLow:
		return "low"
	case LevelHigh:
		return "high"
	case LevelOn:
		return "on"
	default:
		return "unknown"
	}
}

// Running reports whether the fan is turning at this level
func (l Level) Running() bool {
	return l != LevelOff
}

// ParseLevel converts the textual form back into a Level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off":
		return LevelOff, nil
	case "low":
		return LevelLow, nil
	case "high":
		return LevelHigh, nil
	case "on":
		return LevelOn, nil
	default:
		return LevelOff, fmt.Errorf("unknown level %q", s)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Rule names the branch of the control policy that produced a decision
type Rule string

const (
	RuleMinOnHold        Rule = "min_on_hold"
	RuleTargetReached    Rule = "target_reached"
	RuleMaxOnElapsed     Rule = "max_on_elapsed"
	RuleBelowMinHumidity Rule = "below_min_humidity"
	RuleDeltaHigh        Rule = "delta_high"
	RuleDeltaLow         Rule = "delta_low"
	RuleDeltaNone        Rule = "delta_none"
	RuleDisabled         Rule = "disabled"
	RuleEnabled          Rule = "enabled"
	RuleSensorError      Rule = "sensor_error"
)
