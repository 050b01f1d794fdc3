package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the brewlogic configuration: built-in defaults, then the YAML
// file, then BREWLOGIC_* environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Appliance ApplianceConfig `yaml:"appliance"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Recipes   RecipesConfig   `yaml:"recipes"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// SiteConfig identifies the kitchen in logs and published status.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ApplianceConfig names the device entities the executor drives.
type ApplianceConfig struct {
	// Bridge is the MQTT bridge name used in state and command topics.
	Bridge string `yaml:"bridge"`

	// DrinkSelect is the selector entity holding the beverage options.
	DrinkSelect string `yaml:"drink_select"`

	// StartSwitch is the primary start entity; it cycles on→off per brew.
	StartSwitch string `yaml:"start_switch"`

	// DoubleSwitch is optional. Empty disables double-shot handling.
	DoubleSwitch string `yaml:"double_switch"`

	// WorkState is informational only and never gates completion.
	WorkState string `yaml:"work_state"`

	// FaultSensors are checked in order; the first active one is reported.
	FaultSensors []string `yaml:"fault_sensors"`
}

// ExecutorConfig contains recipe execution timing.
type ExecutorConfig struct {
	StartTimeout         time.Duration `yaml:"start_timeout"`
	DefaultStepTimeout   time.Duration `yaml:"default_step_timeout"`
	SelectSettleDelay    time.Duration `yaml:"select_settle_delay"`
	ActivatorSettleDelay time.Duration `yaml:"activator_settle_delay"`
	FaultSettleDelay     time.Duration `yaml:"fault_settle_delay"`

	// MaxFaultPauses bounds fault pauses per run. 0 means unlimited.
	MaxFaultPauses int `yaml:"max_fault_pauses"`

	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	AbortTimeout  time.Duration `yaml:"abort_timeout"`
}

// RecipesConfig points at the recipe definitions file.
type RecipesConfig struct {
	File string `yaml:"file"`

	// WriteExample creates a commented example file when File is missing.
	WriteExample bool `yaml:"write_example"`
}

// DatabaseConfig locates the SQLite file holding statistics, run history
// and the audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig is the broker link to the appliance bridge.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig is the broker address and client identity.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds optional broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig is the HTTP command surface.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds the HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout also bounds reading request headers.
func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes the live run state stream. Intervals are seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables brew telemetry. FlushInterval is seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig controls the optional run state mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is prepended to every key and channel.
	Prefix string `yaml:"prefix"`

	// RecentRuns is the length of the finished-runs list.
	RecentRuns int `yaml:"recent_runs"`
}

// LoggingConfig selects level, format (json or text) and output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret disables
// authentication on the HTTP API.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// NotifyConfig contains user notification settings.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Target is the UI client id notifications are addressed to.
	Target string `yaml:"target"`
}

// Load reads path over the defaults, applies the environment overrides
// listed in envOverrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from a dotenv file so that they
// take part in the environment overrides. Missing files are ignored and
// variables already present in the environment are not replaced.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "kitchen",
			Name: "Kitchen",
		},
		Appliance: ApplianceConfig{
			Bridge:       "coffee",
			DrinkSelect:  "select.coffee_machine_drink_set",
			StartSwitch:  "switch.coffee_machine_start",
			DoubleSwitch: "switch.coffee_machine_double",
			WorkState:    "sensor.coffee_machine_work_state",
			FaultSensors: []string{
				"binary_sensor.coffee_machine_fault_water_empty",
				"binary_sensor.coffee_machine_fault_residual_full",
				"binary_sensor.coffee_machine_fault_milkcup_missing",
				"binary_sensor.coffee_machine_fault_trashcan_misplaced",
				"binary_sensor.coffee_machine_fault_watertank_misplaced",
				"binary_sensor.coffee_machine_fault_blocking",
				"binary_sensor.coffee_machine_fault_heating_fault",
				"binary_sensor.coffee_machine_fault_nic_fault",
			},
		},
		Executor: ExecutorConfig{
			StartTimeout:         15 * time.Second,
			DefaultStepTimeout:   300 * time.Second,
			SelectSettleDelay:    time.Second,
			ActivatorSettleDelay: time.Second,
			FaultSettleDelay:     2 * time.Second,
			MaxFaultPauses:       0,
			NotifyTimeout:        5 * time.Second,
			AbortTimeout:         10 * time.Second,
		},
		Recipes: RecipesConfig{
			File:         "./configs/recipes.yaml",
			WriteExample: true,
		},
		Database: DatabaseConfig{
			Path:        "./data/brewlogic.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "brewlogic",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Address:    "localhost:6379",
			Prefix:     "brewlogic:",
			RecentRuns: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "brewlogic",
			},
		},
		Notify: NotifyConfig{
			Enabled: true,
			Target:  "all",
		},
	}
}

// envOverrides maps BREWLOGIC_* variables onto config fields.
func envOverrides(cfg *Config) map[string]any {
	return map[string]any{
		"BREWLOGIC_APPLIANCE_BRIDGE": &cfg.Appliance.Bridge,
		"BREWLOGIC_RECIPES_FILE":     &cfg.Recipes.File,
		"BREWLOGIC_DATABASE_PATH":    &cfg.Database.Path,
		"BREWLOGIC_MQTT_HOST":        &cfg.MQTT.Broker.Host,
		"BREWLOGIC_MQTT_PORT":        &cfg.MQTT.Broker.Port,
		"BREWLOGIC_MQTT_USERNAME":    &cfg.MQTT.Auth.Username,
		"BREWLOGIC_MQTT_PASSWORD":    &cfg.MQTT.Auth.Password,
		"BREWLOGIC_API_HOST":         &cfg.API.Host,
		"BREWLOGIC_API_PORT":         &cfg.API.Port,
		"BREWLOGIC_INFLUXDB_TOKEN":   &cfg.InfluxDB.Token,
		"BREWLOGIC_REDIS_ADDRESS":    &cfg.Redis.Address,
		"BREWLOGIC_REDIS_PASSWORD":   &cfg.Redis.Password,
		"BREWLOGIC_LOG_LEVEL":        &cfg.Logging.Level,
		"BREWLOGIC_JWT_SECRET":       &cfg.Security.JWT.Secret,
	}
}

// applyEnvOverrides applies the set environment variables. Unparseable
// numbers are ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		switch f := field.(type) {
		case *string:
			*f = v
		case *int:
			if n, err := strconv.Atoi(v); err == nil {
				*f = n
			}
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Appliance.DrinkSelect == "" {
		errs = append(errs, "appliance.drink_select is required")
	}
	if c.Appliance.StartSwitch == "" {
		errs = append(errs, "appliance.start_switch is required")
	}
	if c.Appliance.Bridge == "" {
		errs = append(errs, "appliance.bridge is required")
	}

	if c.Executor.StartTimeout <= 0 {
		errs = append(errs, "executor.start_timeout must be positive")
	}
	if c.Executor.DefaultStepTimeout <= 0 {
		errs = append(errs, "executor.default_step_timeout must be positive")
	}
	if c.Executor.SelectSettleDelay < 0 || c.Executor.ActivatorSettleDelay < 0 || c.Executor.FaultSettleDelay < 0 {
		errs = append(errs, "executor settle delays must not be negative")
	}
	if c.Executor.MaxFaultPauses < 0 {
		errs = append(errs, "executor.max_fault_pauses must not be negative (0 means unlimited)")
	}

	if c.Recipes.File == "" {
		errs = append(errs, "recipes.file is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			errs = append(errs, "redis.address is required when redis is enabled")
		}
		if c.Redis.RecentRuns < 0 {
			errs = append(errs, "redis.recent_runs must not be negative")
		}
	}

	// An empty secret disables API authentication; a set one must be strong.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthEnabled reports whether the HTTP API requires bearer tokens.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}
