package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StateWriter receives entity states
type StateWriter interface {
	Set(entity, value string)
	SetFloat(entity string, value float64)
}

// unavailableAfter is the number of consecutive failed reads after which
// the entities are marked unavailable
const unavailableAfter = 3

// Reader periodically reads a DHT sensor into two entities
type Reader struct {
	sensor            DHTSensor
	sink              StateWriter
	temperatureEntity string
	humidityEntity    string
	interval          time.Duration
	logger            zerolog.Logger

	failures int
}

// NewReader creates a new sensor reader
func NewReader(sensor DHTSensor, sink StateWriter, temperatureEntity, humidityEntity string, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		sensor:            sensor,
		sink:              sink,
		temperatureEntity: temperatureEntity,
		humidityEntity:    humidityEntity,
		interval:          interval,
		logger:            logger.With().Str("temperature_entity", temperatureEntity).Logger(),
	}
}

// Start reads once, then every interval until ctx is cancelled
func (r *Reader) Start(ctx context.Context) error {
	r.ReadOnce()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ReadOnce()
		}
	}
}

// ReadOnce performs a single reading and publishes it
func (r *Reader) ReadOnce() error {
	temperature, humidity, err := r.sensor.Read()
	if err != nil {
		r.failures++
		r.logger.Error().Err(err).Int("failures", r.failures).Msg("failed to read from sensor")
		if r.failures == unavailableAfter {
			r.sink.Set(r.temperatureEntity, "unavailable")
			r.sink.Set(r.humidityEntity, "unavailable")
		}
		return err
	}
	r.failures = 0
	r.sink.SetFloat(r.temperatureEntity, temperature)
	r.sink.SetFloat(r.humidityEntity, humidity)
	r.logger.Debug().Float64("temperature", temperature).Float64("humidity", humidity).Msg("read from sensor")
	return nil
}

// Close stops the reader and cleans up resources
func (r *Reader) Close() error {
	return r.sensor.Close()
}
