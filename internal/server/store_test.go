package server

import (
	"testing"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

func decisionAt(unitID string, ts time.Time, to models.Level) *models.Decision {
	r := models.NewSensorReading(ts, 22.0, 65.0, 5.0, 80.0)
	return &models.Decision{
		UnitID:          unitID,
		Timestamp:       ts,
		Reading:         &r,
		IndoorDewPoint:  15.11,
		OutdoorDewPoint: 1.84,
		Delta:           13.27,
		From:            models.LevelOff,
		To:              to,
		Rule:            models.RuleDeltaHigh,
		Enabled:         true,
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	ms := NewMemoryStore(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		ms.Add(decisionAt("cellar", base.Add(time.Duration(i)*time.Minute), models.LevelHigh))
	}

	latest := ms.GetLatest("cellar", 10)
	if len(latest) != 3 {
		t.Fatalf("got %d decisions, want 3", len(latest))
	}
	if !latest[0].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest = %v, want %v", latest[0].Timestamp, base.Add(4*time.Minute))
	}
	if !latest[2].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest = %v, want %v", latest[2].Timestamp, base.Add(2*time.Minute))
	}

	stats := ms.Stats()
	if stats.TotalDecisions != 5 || stats.CurrentDecisions != 3 || stats.UniqueUnits != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMemoryStore_StoresCopies(t *testing.T) {
	ms := NewMemoryStore(10)
	d := decisionAt("cellar", time.Now(), models.LevelLow)
	ms.Add(d)
	d.Reading.IndoorTemp = 99

	cur := ms.GetCurrent("cellar")
	if cur.Reading.IndoorTemp != 22.0 {
		t.Errorf("stored decision changed with caller: %v", cur.Reading.IndoorTemp)
	}
	cur.Reading.IndoorTemp = 50
	if ms.GetCurrent("cellar").Reading.IndoorTemp != 22.0 {
		t.Error("returned decision aliases the store")
	}
}

func TestMemoryStore_Units(t *testing.T) {
	ms := NewMemoryStore(10)
	now := time.Now()
	ms.Add(decisionAt("garage", now, models.LevelOff))
	ms.Add(decisionAt("cellar", now.Add(-time.Hour), models.LevelOff))

	ids := ms.GetUnitIDs()
	if len(ids) != 2 || ids[0] != "cellar" || ids[1] != "garage" {
		t.Errorf("GetUnitIDs = %v", ids)
	}
	if ms.GetCurrent("attic") != nil {
		t.Error("unknown unit should have no current decision")
	}
	if ms.GetLatest("attic", 5) != nil {
		t.Error("unknown unit should have no history")
	}

	stats := ms.Stats()
	if !stats.OldestDecision.Equal(now.Add(-time.Hour)) || !stats.NewestDecision.Equal(now) {
		t.Errorf("unexpected range: %v .. %v", stats.OldestDecision, stats.NewestDecision)
	}

	ms.Clear()
	if ms.Stats().UniqueUnits != 0 {
		t.Error("Clear should empty the store")
	}
}

func TestRemoteRegistry(t *testing.T) {
	reg := NewRemoteRegistry()
	reg.Update("node-b", []models.Status{{UnitID: "garage"}, {UnitID: "cellar", Level: models.LevelLow}})

	statuses := reg.Statuses()
	if len(statuses) != 2 || statuses[0].UnitID != "cellar" {
		t.Fatalf("Statuses = %+v", statuses)
	}
	if node, ok := reg.Node("cellar"); !ok || node != "node-b" {
		t.Errorf("Node = %q, %v", node, ok)
	}
	if err := reg.Reset("cellar"); err != ErrReadOnly {
		t.Errorf("Reset err = %v, want ErrReadOnly", err)
	}
	if _, err := reg.Status("attic"); err == nil {
		t.Error("expected error for unknown unit")
	}
}
