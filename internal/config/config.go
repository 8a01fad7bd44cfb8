package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/viking76/homeassistant-generic-wmc/internal/controller"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
	"github.com/viking76/homeassistant-generic-wmc/internal/wmc"
)

// Actuator backends a unit can switch through
const (
	ActuatorMQTT   = "mqtt"
	ActuatorModbus = "modbus"
)

// Config holds all configuration for a controller node
type Config struct {
	Node    NodeConfig      `yaml:"node"`
	Units   []UnitConfig    `yaml:"units"`
	MQTT    MQTTConfig      `yaml:"mqtt"`
	Modbus  ModbusConfig    `yaml:"modbus"`
	DHT     DHTConfig       `yaml:"dht"`
	Storage StorageSettings `yaml:"storage"`
	Influx  InfluxConfig    `yaml:"influx"`
	Kafka   KafkaConfig     `yaml:"kafka"`
	Server  ServerSettings  `yaml:"server"`
	Uplink  UplinkConfig    `yaml:"uplink"`
	Buffer  BufferConfig    `yaml:"buffer"`
	Logging LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this controller node
type NodeConfig struct {
	ID string `yaml:"id"`

	// StateMaxAge is how long an entity state stays valid without an
	// update; older states read as unavailable.
	StateMaxAge time.Duration `yaml:"state_max_age"`
}

// UnitConfig describes one ventilation unit
type UnitConfig struct {
	Name     string `yaml:"name"`
	UniqueID string `yaml:"unique_id"`

	sampler.SensorRefs   `yaml:",inline"`
	controller.Actuators `yaml:",inline"`

	DeltaTrigger   float64       `yaml:"delta_trigger"`
	TargetOffset   *float64      `yaml:"target_offset"`
	MinOnTime      time.Duration `yaml:"min_on_time"`
	MaxOnTime      time.Duration `yaml:"max_on_time"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	SampleWindow   time.Duration `yaml:"sample_window"`
	MinHumidity    float64       `yaml:"min_humidity"`
	Enabled        *bool         `yaml:"enabled"`
	Actuator       string        `yaml:"actuator"`
}

// MQTTConfig contains broker settings and the topic layout
type MQTTConfig struct {
	Broker           string        `yaml:"broker"`
	ClientID         string        `yaml:"client_id"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	StatePrefix      string        `yaml:"state_prefix"`
	CommandPrefix    string        `yaml:"command_prefix"`
	AttributesPrefix string        `yaml:"attributes_prefix"`
	QoS              byte          `yaml:"qos"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// ModbusConfig maps switch entities to coils of a Modbus-TCP relay board
type ModbusConfig struct {
	URL     string            `yaml:"url"`
	SlaveID byte              `yaml:"slave_id"`
	Timeout time.Duration     `yaml:"timeout"`
	Coils   map[string]uint16 `yaml:"coils"`
}

// DHTConfig contains settings for a locally wired DHT11 sensor
type DHTConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Type              string        `yaml:"type"`
	GPIOPin           int           `yaml:"gpio_pin"`
	Retries           int           `yaml:"retries"`
	ReadInterval      time.Duration `yaml:"read_interval"`
	TemperatureEntity string        `yaml:"temperature_entity"`
	HumidityEntity    string        `yaml:"humidity_entity"`

	TemperatureOffset float64 `yaml:"temperature_offset"`
	HumidityOffset    float64 `yaml:"humidity_offset"`

	// Largest change between two reads before a value is treated as a
	// glitch. Zero disables the check.
	MaxTemperatureStep float64 `yaml:"max_temperature_step"`
	MaxHumidityStep    float64 `yaml:"max_humidity_step"`
}

// InfluxConfig contains InfluxDB v2 settings
type InfluxConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
	Attempts    uint          `yaml:"attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Enabled reports whether an InfluxDB server is configured
func (i InfluxConfig) Enabled() bool {
	return i.URL != ""
}

// KafkaConfig contains settings for publishing level transitions
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether brokers are configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// UplinkConfig contains connection settings for a remote monitor
type UplinkConfig struct {
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	BatchSize            int           `yaml:"batch_size"`
}

// Enabled reports whether an uplink URL is configured
func (u UplinkConfig) Enabled() bool {
	return u.URL != ""
}

// BufferConfig contains settings for the uplink decision buffer
type BufferConfig struct {
	Size       int  `yaml:"size"`
	DropOldest bool `yaml:"drop_oldest"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// DeriveUniqueID returns a stable id for a unit name
func DeriveUniqueID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("wmc:"+name)).String()
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Node.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Node.ID = host
		} else {
			c.Node.ID = "wmc"
		}
	}
	if c.Node.StateMaxAge == 0 {
		c.Node.StateMaxAge = 30 * time.Minute
	}
	for i := range c.Units {
		c.Units[i].applyDefaults()
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "wmc-" + c.Node.ID
	}
	if c.MQTT.StatePrefix == "" {
		c.MQTT.StatePrefix = "homeassistant"
	}
	if c.MQTT.CommandPrefix == "" {
		c.MQTT.CommandPrefix = "wmc/command"
	}
	if c.MQTT.AttributesPrefix == "" {
		c.MQTT.AttributesPrefix = "wmc/units"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}

	if c.Modbus.SlaveID == 0 {
		c.Modbus.SlaveID = 1
	}
	if c.Modbus.Timeout == 0 {
		c.Modbus.Timeout = 5 * time.Second
	}

	if c.DHT.Type == "" {
		c.DHT.Type = "DHT11"
	}
	if c.DHT.ReadInterval == 0 {
		c.DHT.ReadInterval = 30 * time.Second
	}
	if c.DHT.Retries == 0 {
		c.DHT.Retries = 3
	}
	if c.DHT.TemperatureEntity == "" {
		c.DHT.TemperatureEntity = "sensor.dht_temperature"
	}
	if c.DHT.HumidityEntity == "" {
		c.DHT.HumidityEntity = "sensor.dht_humidity"
	}

	c.Storage.applyDefaults("./data/wmc.db")

	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "wmc"
	}
	if c.Influx.Timeout == 0 {
		c.Influx.Timeout = 5 * time.Second
	}
	if c.Influx.Attempts == 0 {
		c.Influx.Attempts = 3
	}
	if c.Influx.RetryDelay == 0 {
		c.Influx.RetryDelay = 2 * time.Second
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "wmc.transitions"
	}

	c.Server.applyDefaults()

	if c.Uplink.ConnectTimeout == 0 {
		c.Uplink.ConnectTimeout = 10 * time.Second
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = 1 * time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.PongTimeout == 0 {
		c.Uplink.PongTimeout = 10 * time.Second
	}
	if c.Uplink.FlushInterval == 0 {
		c.Uplink.FlushInterval = 5 * time.Second
	}
	if c.Uplink.BatchSize == 0 {
		c.Uplink.BatchSize = 50
	}
	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
		c.Buffer.DropOldest = true
	}

	c.Logging.applyDefaults()
}

func (u *UnitConfig) applyDefaults() {
	if u.UniqueID == "" && u.Name != "" {
		u.UniqueID = DeriveUniqueID(u.Name)
	}
	if u.DeltaTrigger == 0 {
		u.DeltaTrigger = 3
	}
	if u.TargetOffset == nil {
		offset := 3.0
		u.TargetOffset = &offset
	}
	if u.MaxOnTime == 0 {
		u.MaxOnTime = 2 * time.Hour
	}
	if u.SampleInterval == 0 {
		u.SampleInterval = 5 * time.Minute
	}
	if u.SampleWindow == 0 {
		u.SampleWindow = sampler.DefaultWindow
	}
	if u.Enabled == nil {
		enabled := true
		u.Enabled = &enabled
	}
	if u.Actuator == "" {
		u.Actuator = ActuatorMQTT
	}
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 10
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("WMC_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("WMC_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("WMC_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("WMC_SERVER_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("WMC_INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("WMC_UPLINK_URL"); v != "" {
		c.Uplink.URL = v
	}
	if v := os.Getenv("WMC_UPLINK_AUTH_TOKEN"); v != "" {
		c.Uplink.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}

	seen := make(map[string]bool)
	for i, u := range c.Units {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %d (%s): %w", i, u.Name, err)
		}
		if seen[u.UniqueID] {
			return fmt.Errorf("unit %d (%s): duplicate unique_id %s", i, u.Name, u.UniqueID)
		}
		seen[u.UniqueID] = true

		switch u.Actuator {
		case ActuatorMQTT:
			if !c.MQTT.Enabled() {
				return fmt.Errorf("unit %s uses mqtt actuators but no mqtt broker is configured", u.Name)
			}
		case ActuatorModbus:
			if c.Modbus.URL == "" {
				return fmt.Errorf("unit %s uses modbus actuators but no modbus url is configured", u.Name)
			}
			for _, entity := range []string{u.LowSpeed, u.HighSpeed} {
				if entity == "" {
					continue
				}
				if _, ok := c.Modbus.Coils[entity]; !ok {
					return fmt.Errorf("unit %s: no modbus coil for %s", u.Name, entity)
				}
			}
		}
	}

	if c.MQTT.Enabled() && c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if c.DHT.Enabled {
		if c.DHT.GPIOPin <= 0 {
			return fmt.Errorf("GPIO pin must be greater than 0")
		}
		if c.DHT.Type != "DHT11" {
			return fmt.Errorf("unsupported dht type %q", c.DHT.Type)
		}
		if c.DHT.MaxTemperatureStep < 0 || c.DHT.MaxHumidityStep < 0 {
			return fmt.Errorf("dht step limits must not be negative")
		}
		if c.DHT.ReadInterval < 1*time.Second {
			return fmt.Errorf("dht read interval must be at least 1 second")
		}
	}
	if c.Storage.Enabled {
		if err := c.Storage.validate(); err != nil {
			return err
		}
	}
	if c.Influx.Enabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx org and bucket are required")
	}
	if c.Server.Enabled {
		if err := c.Server.validate(); err != nil {
			return err
		}
	}
	if c.Uplink.Enabled() {
		if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
			return fmt.Errorf("uplink URL must start with ws:// or wss://")
		}
		if c.Uplink.AuthToken == "" {
			return fmt.Errorf("uplink auth token is required")
		}
		if c.Buffer.Size < 10 || c.Buffer.Size > 100000 {
			return fmt.Errorf("buffer size must be between 10 and 100000")
		}
	}
	return nil
}

// Validate checks a single unit
func (u UnitConfig) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	for key, ref := range map[string]string{
		"sensor_indoor_temp":      u.IndoorTemp,
		"sensor_indoor_humidity":  u.IndoorHumidity,
		"sensor_outdoor_temp":     u.OutdoorTemp,
		"sensor_outdoor_humidity": u.OutdoorHumidity,
		"low_speed":               u.LowSpeed,
	} {
		if ref == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if u.HighSpeed == u.LowSpeed {
		return fmt.Errorf("high_speed must differ from low_speed")
	}
	if u.DeltaTrigger <= 0 {
		return fmt.Errorf("delta_trigger must be positive")
	}
	if u.MinOnTime < 0 || u.MaxOnTime < 0 {
		return fmt.Errorf("on times must not be negative")
	}
	if u.MinOnTime > u.MaxOnTime {
		return fmt.Errorf("min_on_time must not exceed max_on_time")
	}
	if u.SampleInterval < 1*time.Second {
		return fmt.Errorf("sample interval must be at least 1 second")
	}
	if u.MinHumidity < 0 || u.MinHumidity > 100 {
		return fmt.Errorf("min_humidity must be between 0 and 100")
	}
	if u.Actuator != ActuatorMQTT && u.Actuator != ActuatorModbus {
		return fmt.Errorf("unknown actuator %q", u.Actuator)
	}
	return nil
}

// WMC converts the unit settings into the controller's configuration
func (u UnitConfig) WMC(version string) wmc.Config {
	cfg := wmc.Config{
		ID:        u.UniqueID,
		Name:      u.Name,
		Refs:      u.SensorRefs,
		Actuators: u.Actuators,
		Params: controller.Params{
			DeltaTrigger: u.DeltaTrigger,
			MinOnTime:    u.MinOnTime,
			MaxOnTime:    u.MaxOnTime,
			MinHumidity:  u.MinHumidity,
			TwoSpeed:     u.Actuators.TwoSpeed(),
		},
		SampleInterval: u.SampleInterval,
		SampleWindow:   u.SampleWindow,
		Enabled:        true,
		Backend:        u.Actuator,
		Version:        version,
	}
	if u.TargetOffset != nil {
		cfg.TargetOffset = *u.TargetOffset
	}
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	return cfg
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	names := make([]string, 0, len(c.Units))
	for _, u := range c.Units {
		names = append(names, u.Name)
	}
	return fmt.Sprintf("Config{Node: %s, Units: %v, MQTT: [Broker=%s, Password=%s], Modbus: %s, Storage: %+v, Influx: [URL=%s, Token=%s], Kafka: %+v, Server: [Enabled=%t, Port=%d, Token=%s], Uplink: [URL=%s, Token=%s], Logging: %+v}",
		c.Node.ID,
		names,
		c.MQTT.Broker,
		maskToken(c.MQTT.Password),
		c.Modbus.URL,
		c.Storage,
		c.Influx.URL,
		maskToken(c.Influx.Token),
		c.Kafka,
		c.Server.Enabled,
		c.Server.Port,
		maskToken(c.Server.AuthToken),
		c.Uplink.URL,
		maskToken(c.Uplink.AuthToken),
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
