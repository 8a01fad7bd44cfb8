package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/client"
	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/controller"
	"github.com/viking76/homeassistant-generic-wmc/internal/logging"
	"github.com/viking76/homeassistant-generic-wmc/internal/modbus"
	"github.com/viking76/homeassistant-generic-wmc/internal/mqttbridge"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
	"github.com/viking76/homeassistant-generic-wmc/internal/sensor"
	"github.com/viking76/homeassistant-generic-wmc/internal/server"
	"github.com/viking76/homeassistant-generic-wmc/internal/storage"
	"github.com/viking76/homeassistant-generic-wmc/internal/telemetry"
	"github.com/viking76/homeassistant-generic-wmc/internal/wmc"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/wmc.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser := logging.New(cfg.Logging, "wmc")
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Str("node", cfg.Node.ID).
		Int("units", len(cfg.Units)).
		Msg("Starting WMC controller")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := sensor.NewStateCache(cfg.Node.StateMaxAge)

	// MQTT bridge
	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled() {
		var current atomic.Pointer[mqttbridge.Bridge]
		mqttClient, err := mqttbridge.Dial(cfg.MQTT, logger, func() {
			if b := current.Load(); b != nil {
				b.Resubscribe()
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
		}
		defer mqttClient.Disconnect(250)

		bridge = mqttbridge.New(mqttClient, cfg.MQTT, cache, logger)
		defer bridge.Close()
		current.Store(bridge)

		var entities []string
		for _, u := range cfg.Units {
			entities = append(entities, u.SensorRefs.Entities()...)
		}
		if err := bridge.SubscribeStates(entities); err != nil {
			logger.Fatal().Err(err).Msg("Failed to subscribe to entity states")
		}
	}

	// Modbus relay board
	var coils *modbus.CoilSink
	for _, u := range cfg.Units {
		if u.Actuator != config.ActuatorModbus || coils != nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Modbus.Timeout)
		coils, err = modbus.Dial(dialCtx, cfg.Modbus, logger)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.Modbus.URL).Msg("Failed to connect to Modbus device")
		}
		defer coils.Close()
	}

	// Local DHT sensor
	if cfg.DHT.Enabled {
		dht11, err := sensor.OpenDHT11(cfg.DHT.GPIOPin, cfg.DHT.Retries, sensor.Calibration{
			TemperatureOffset: cfg.DHT.TemperatureOffset,
			HumidityOffset:    cfg.DHT.HumidityOffset,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize DHT sensor")
		}
		filtered := sensor.NewSpikeFilter(dht11, cfg.DHT.MaxTemperatureStep, cfg.DHT.MaxHumidityStep)
		reader := sensor.NewReader(filtered, cache, cfg.DHT.TemperatureEntity, cfg.DHT.HumidityEntity, cfg.DHT.ReadInterval, logger)
		defer reader.Close()
		go reader.Start(ctx)
		logger.Info().Int("pin", cfg.DHT.GPIOPin).Dur("interval", cfg.DHT.ReadInterval).Msg("DHT reader started")
	}

	// Storage
	var (
		sqliteStore *storage.SQLiteStore
		dbWriter    *storage.DBWriter
		cleaner     *storage.RetentionCleaner
		recorder    *storage.Recorder
	)
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open SQLite store")
		}
		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Storage.BufferSize,
			FlushPeriod: cfg.Storage.FlushPeriod,
			ChannelSize: cfg.Storage.BufferSize * 10,
		}, logger)
		cleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays:       cfg.Storage.RetentionDays,
			SteadyRetentionDays: cfg.Storage.SteadyRetentionDays,
			CleanupPeriod:       time.Hour,
		}, logger)
		recorder = storage.NewRecorder(dbWriter, sqliteStore, logger)
	}

	// Units
	fleet := wmc.NewFleet()
	for _, uc := range cfg.Units {
		var sink controller.ActuatorSink
		switch uc.Actuator {
		case config.ActuatorModbus:
			sink = coils
		default:
			sink = bridge
		}

		unitCfg := uc.WMC(version)
		unit := wmc.NewUnit(unitCfg, cache, sink, logger)
		if recorder != nil {
			capacity := sampler.Capacity(unitCfg.SampleWindow, unitCfg.SampleInterval)
			if err := recorder.Restore(unit, unitCfg.SampleWindow, capacity, time.Now()); err != nil {
				logger.Warn().Err(err).Str("unit", unit.ID()).Msg("Failed to restore unit state")
			}
		}
		if err := fleet.Add(unit); err != nil {
			logger.Fatal().Err(err).Str("unit", uc.Name).Msg("Failed to add unit")
		}
		logger.Info().
			Str("unit", unit.ID()).
			Str("name", uc.Name).
			Str("actuator", uc.Actuator).
			Bool("two_speed", unitCfg.Params.TwoSpeed).
			Msg("Unit configured")
	}

	// Observers
	metrics := telemetry.NewMetrics()
	fleet.AddObserver(metrics)
	if recorder != nil {
		fleet.AddObserver(recorder)
	}
	if bridge != nil {
		if err := bridge.SubscribeCommands(fleet, unitIDs(fleet)); err != nil {
			logger.Fatal().Err(err).Msg("Failed to subscribe to unit commands")
		}
		fleet.AddObserver(mqttbridge.NewAttributePublisher(bridge, fleet))
	}

	var influx *telemetry.InfluxSink
	if cfg.Influx.Enabled() {
		influx = telemetry.NewInfluxSink(cfg.Influx, logger)
		healthCtx, cancel := context.WithTimeout(ctx, cfg.Influx.Timeout)
		if err := influx.Health(healthCtx); err != nil {
			logger.Warn().Err(err).Str("url", cfg.Influx.URL).Msg("InfluxDB not reachable, points will be retried")
		}
		cancel()
		fleet.AddObserver(influx)
	}

	var publisher *telemetry.TransitionPublisher
	if cfg.Kafka.Enabled() {
		publisher = telemetry.NewTransitionPublisher(cfg.Node.ID, cfg.Kafka, logger)
		fleet.AddObserver(publisher)
	}

	// HTTP API and live feed
	var httpServer *http.Server
	if cfg.Server.Enabled {
		memStore := server.NewMemoryStore(cfg.Server.HistorySize)
		fleet.AddObserver(memStore)

		hub := server.NewHub(cfg.Server.AuthToken, fleet, logger, cfg.Server.AllowedOrigins...)
		fleet.AddObserver(hub)

		var history server.HistoricalStore
		if sqliteStore != nil {
			history = sqliteStore
		}
		api := server.NewAPIHandler(memStore, history, fleet, version, logger)
		router := server.NewRouter(server.RouterConfig{
			AuthToken: cfg.Server.AuthToken,
			API:       api,
			Hub:       hub,
			Metrics:   metrics.Handler(),
		})
		httpServer = server.NewHTTPServer(cfg.Server, router)

		go func() {
			logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("Server failed")
			}
		}()
	}

	// Uplink to a monitor
	var wg sync.WaitGroup
	if cfg.Uplink.Enabled() {
		uplink := client.NewUplink(cfg.Node.ID, cfg.Uplink, cfg.Buffer, fleet, logger)
		fleet.AddObserver(uplink)
		wg.Add(1)
		go func() {
			defer wg.Done()
			uplink.Run(ctx)
		}()
		logger.Info().Str("url", cfg.Uplink.URL).Msg("Uplink started")
	}

	fleet.Run(ctx)

	logger.Info().Msg("Shutting down...")
	shutdown(logger, httpServer, &wg, influx, publisher, dbWriter, cleaner, sqliteStore)
	logger.Info().Msg("WMC controller stopped")
}

func unitIDs(fleet *wmc.Fleet) []string {
	units := fleet.Units()
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID()
	}
	return ids
}

// shutdown stops the outputs once every unit has stopped ticking
func shutdown(
	logger zerolog.Logger,
	httpServer *http.Server,
	uplinks *sync.WaitGroup,
	influx *telemetry.InfluxSink,
	publisher *telemetry.TransitionPublisher,
	dbWriter *storage.DBWriter,
	cleaner *storage.RetentionCleaner,
	sqliteStore *storage.SQLiteStore,
) {
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}
	uplinks.Wait()

	if influx != nil {
		influx.Stop()
		logger.Info().Msg("InfluxDB sink stopped")
	}
	if publisher != nil {
		publisher.Stop()
		logger.Info().Msg("Kafka publisher stopped")
	}
	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if cleaner != nil {
		cleaner.Stop()
		rs := cleaner.Stats()
		logger.Info().
			Int64("passes", rs.Passes).
			Int64("steady_deleted", rs.SteadyDeleted).
			Int64("expired_deleted", rs.ExpiredDeleted).
			Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}
}
