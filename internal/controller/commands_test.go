package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

var (
	dual   = Actuators{LowSpeed: "switch.wmc_low", HighSpeed: "switch.wmc_high"}
	single = Actuators{LowSpeed: "switch.wmc"}
)

func TestCommands(t *testing.T) {
	tests := []struct {
		name     string
		a        Actuators
		from, to models.Level
		want     []Command
	}{
		{
			name: "off to high",
			a:    dual,
			from: models.LevelOff,
			to:   models.LevelHigh,
			want: []Command{{"switch.wmc_low", false}, {"switch.wmc_high", true}},
		},
		{
			name: "high to low",
			a:    dual,
			from: models.LevelHigh,
			to:   models.LevelLow,
			want: []Command{{"switch.wmc_high", false}, {"switch.wmc_low", true}},
		},
		{
			name: "low to off",
			a:    dual,
			from: models.LevelLow,
			to:   models.LevelOff,
			want: []Command{{"switch.wmc_low", false}, {"switch.wmc_high", false}},
		},
		{
			name: "single speed on",
			a:    single,
			from: models.LevelOff,
			to:   models.LevelOn,
			want: []Command{{"switch.wmc", true}},
		},
		{
			name: "single speed off",
			a:    single,
			from: models.LevelOn,
			to:   models.LevelOff,
			want: []Command{{"switch.wmc", false}},
		},
		{
			name: "same level",
			a:    dual,
			from: models.LevelLow,
			to:   models.LevelLow,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Commands(tt.a, tt.from, tt.to))
		})
	}
}

func TestDesired_OffsFirst(t *testing.T) {
	for _, level := range []models.Level{models.LevelLow, models.LevelHigh, models.LevelOn} {
		cmds := Desired(dual, level)
		seenOn := false
		for _, c := range cmds {
			if c.On {
				seenOn = true
			} else {
				assert.False(t, seenOn, "%v: off command after on command", level)
			}
		}
		assert.True(t, seenOn, "%v should switch something on", level)
	}
}
