// internal/models/unit_info_test.go
package models

import (
	"testing"
	"time"
)

func TestNewUnitInfo(t *testing.T) {
	info := NewUnitInfo("wmc-1", "Cellar", "mqtt", "v1.0.0", true)

	if info == nil {
		t.Fatal("NewUnitInfo returned nil")
	}
	if info.ID != "wmc-1" {
		t.Errorf("ID = %v, want wmc-1", info.ID)
	}
	if !info.TwoSpeed {
		t.Error("TwoSpeed should be true")
	}
	if info.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
}

func TestUnitInfo_Uptime(t *testing.T) {
	info := &UnitInfo{ID: "wmc-1", StartTime: time.Now().Add(-1 * time.Hour)}

	uptime := info.Uptime()
	if uptime < 59*time.Minute || uptime > 61*time.Minute {
		t.Errorf("Uptime = %v, expected approximately 1 hour", uptime)
	}
}
