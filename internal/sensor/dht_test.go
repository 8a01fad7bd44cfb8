package sensor

import (
	"errors"
	"testing"
)

// MockDHTSensor implements DHTSensor for testing
type MockDHTSensor struct {
	temperature float64
	humidity    float64
	err         error
	readCount   int
	closed      bool
}

func (m *MockDHTSensor) Read() (float64, float64, error) {
	m.readCount++
	return m.temperature, m.humidity, m.err
}

func (m *MockDHTSensor) Close() error {
	m.closed = true
	return nil
}

// sequenceSensor returns one scripted reading per call
type sequenceSensor struct {
	readings [][2]float64
	i        int
}

func (s *sequenceSensor) Read() (float64, float64, error) {
	r := s.readings[s.i]
	s.i++
	return r[0], r[1], nil
}

func (s *sequenceSensor) Close() error { return nil }

func TestCheckRange(t *testing.T) {
	tests := []struct {
		name     string
		temp     float64
		humidity float64
		wantErr  bool
	}{
		{"cellar", 14.0, 78.0, false},
		{"lower bounds", -20.0, 0.0, false},
		{"upper bounds", 60.0, 100.0, false},
		{"too cold", -25.0, 45.0, true},
		{"too hot", 65.0, 45.0, true},
		{"negative humidity", 22.5, -5.0, true},
		{"humidity over 100", 22.5, 105.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRange(tt.temp, tt.humidity)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkRange(%v, %v) = %v, wantErr %v", tt.temp, tt.humidity, err, tt.wantErr)
			}
		})
	}
}

func TestCalibration(t *testing.T) {
	tests := []struct {
		name     string
		cal      Calibration
		temp, rh float64
		wantT    float64
		wantRH   float64
	}{
		{"none", Calibration{}, 21.0, 60.0, 21.0, 60.0},
		{"offsets", Calibration{TemperatureOffset: -1.5, HumidityOffset: 4}, 21.0, 60.0, 19.5, 64.0},
		{"clamped high", Calibration{HumidityOffset: 8}, 21.0, 95.0, 21.0, 100.0},
		{"clamped low", Calibration{HumidityOffset: -10}, 21.0, 5.0, 21.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotT, gotRH := tt.cal.apply(tt.temp, tt.rh)
			if gotT != tt.wantT || gotRH != tt.wantRH {
				t.Errorf("apply(%v, %v) = %v, %v, want %v, %v", tt.temp, tt.rh, gotT, gotRH, tt.wantT, tt.wantRH)
			}
		})
	}
}

func TestSpikeFilter(t *testing.T) {
	s := &sequenceSensor{readings: [][2]float64{
		{20.0, 60.0},
		{20.5, 61.0}, // normal drift
		{35.0, 61.0}, // glitch
		{20.6, 61.5},
		{20.6, 90.0}, // humidity jump, held twice then accepted
		{20.6, 90.0},
		{20.6, 90.0},
		{20.7, 90.5},
	}}
	f := NewSpikeFilter(s, 3, 10)

	want := []bool{true, true, false, true, false, false, true, true}
	for i, ok := range want {
		_, rh, err := f.Read()
		if ok && err != nil {
			t.Fatalf("read %d: unexpected error %v", i, err)
		}
		if !ok && !errors.Is(err, ErrSpike) {
			t.Fatalf("read %d: err = %v, want ErrSpike", i, err)
		}
		if i == 6 && rh != 90.0 {
			t.Errorf("read %d: humidity = %v, want the new baseline 90", i, rh)
		}
	}
}

func TestSpikeFilter_PassesErrors(t *testing.T) {
	boom := errors.New("checksum mismatch")
	f := NewSpikeFilter(&MockDHTSensor{err: boom}, 3, 10)

	if _, _, err := f.Read(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want the sensor error", err)
	}
	if f.have {
		t.Error("a failed read must not set a baseline")
	}
}

func TestSpikeFilter_Disabled(t *testing.T) {
	s := &sequenceSensor{readings: [][2]float64{{20, 40}, {40, 90}}}
	f := NewSpikeFilter(s, 0, 0)

	for i := 0; i < 2; i++ {
		if _, _, err := f.Read(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
}
