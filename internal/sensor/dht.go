package sensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/afroash/dht"
)

// DHTSensor is a temperature (°C) and relative humidity (%) sensor
type DHTSensor interface {
	Read() (temperature float64, humidity float64, err error)
	Close() error
}

// ErrSpike is returned for a reading that jumped too far from the last
// accepted one
var ErrSpike = errors.New("reading jumped too far from the previous one")

// Calibration corrects the raw values of one physical sensor
type Calibration struct {
	TemperatureOffset float64
	HumidityOffset    float64
}

func (c Calibration) apply(temperature, humidity float64) (float64, float64) {
	humidity = math.Min(100, math.Max(0, humidity+c.HumidityOffset))
	return temperature + c.TemperatureOffset, humidity
}

// DHT11 reads a DHT11 wired to a GPIO pin
type DHT11 struct {
	pin     int
	retries int
	cal     Calibration
	dev     *dht.Sensor
}

// OpenDHT11 opens the DHT11 on pin. retries below 1 means 3.
func OpenDHT11(pin, retries int, cal Calibration) (*DHT11, error) {
	if retries < 1 {
		retries = 3
	}
	dev, err := dht.NewDHT11(pin)
	if err != nil {
		return nil, fmt.Errorf("opening DHT11 on pin %d: %w", pin, err)
	}
	return &DHT11{pin: pin, retries: retries, cal: cal, dev: dev}, nil
}

// Read returns a calibrated reading. The raw value is checked against the
// sensor's range before calibration is applied.
func (d *DHT11) Read() (float64, float64, error) {
	r, err := d.dev.ReadRetry(d.retries)
	if err != nil {
		return 0, 0, fmt.Errorf("pin %d: %d attempts failed: %w", d.pin, d.retries, err)
	}
	if err := checkRange(r.Temperature, r.Humidity); err != nil {
		return 0, 0, fmt.Errorf("pin %d: %w", d.pin, err)
	}
	t, rh := d.cal.apply(r.Temperature, r.Humidity)
	return t, rh, nil
}

func (d *DHT11) Close() error {
	return d.dev.Close()
}

// checkRange rejects values a DHT11 cannot produce. The bounds are wider
// than the datasheet's 0..50°C and 20..90%.
func checkRange(temperature, humidity float64) error {
	switch {
	case temperature < -20 || temperature > 60:
		return fmt.Errorf("temperature %.1f°C out of range", temperature)
	case humidity < 0 || humidity > 100:
		return fmt.Errorf("humidity %.1f%% out of range", humidity)
	}
	return nil
}

// SpikeFilter drops single readings that jump more than a step from the
// last accepted one. After MaxRejects consecutive rejections the jump is
// taken as real and becomes the new baseline.
type SpikeFilter struct {
	DHTSensor
	MaxTemperatureStep float64
	MaxHumidityStep    float64
	MaxRejects         int

	have    bool
	lastT   float64
	lastRH  float64
	rejects int
}

// NewSpikeFilter wraps s. A non-positive step disables the check for that
// quantity.
func NewSpikeFilter(s DHTSensor, maxTemperatureStep, maxHumidityStep float64) *SpikeFilter {
	return &SpikeFilter{
		DHTSensor:          s,
		MaxTemperatureStep: maxTemperatureStep,
		MaxHumidityStep:    maxHumidityStep,
		MaxRejects:         2,
	}
}

func (f *SpikeFilter) Read() (float64, float64, error) {
	t, rh, err := f.DHTSensor.Read()
	if err != nil {
		return 0, 0, err
	}

	if f.have && f.rejects < f.MaxRejects && f.jumped(t, rh) {
		f.rejects++
		return 0, 0, fmt.Errorf("%w: %.1f°C %.1f%% after %.1f°C %.1f%%", ErrSpike, t, rh, f.lastT, f.lastRH)
	}

	f.have = true
	f.rejects = 0
	f.lastT, f.lastRH = t, rh
	return t, rh, nil
}

func (f *SpikeFilter) jumped(t, rh float64) bool {
	if f.MaxTemperatureStep > 0 && math.Abs(t-f.lastT) > f.MaxTemperatureStep {
		return true
	}
	return f.MaxHumidityStep > 0 && math.Abs(rh-f.lastRH) > f.MaxHumidityStep
}
