package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
appliance:
  bridge: "barista"
  drink_select: "select.drink"
  start_switch: "switch.start"
  fault_sensors:
    - "binary_sensor.water_empty"
executor:
  start_timeout: 20s
  default_step_timeout: 2m
  max_fault_pauses: 3
database:
  path: "/tmp/test.db"
recipes:
  file: "/tmp/recipes.yaml"
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Appliance.Bridge != "barista" {
		t.Errorf("Appliance.Bridge = %q, want %q", cfg.Appliance.Bridge, "barista")
	}
	if len(cfg.Appliance.FaultSensors) != 1 || cfg.Appliance.FaultSensors[0] != "binary_sensor.water_empty" {
		t.Errorf("Appliance.FaultSensors = %v, want [binary_sensor.water_empty]", cfg.Appliance.FaultSensors)
	}
	if cfg.Executor.StartTimeout != 20*time.Second {
		t.Errorf("Executor.StartTimeout = %v, want 20s", cfg.Executor.StartTimeout)
	}
	if cfg.Executor.DefaultStepTimeout != 2*time.Minute {
		t.Errorf("Executor.DefaultStepTimeout = %v, want 2m", cfg.Executor.DefaultStepTimeout)
	}
	if cfg.Executor.MaxFaultPauses != 3 {
		t.Errorf("Executor.MaxFaultPauses = %d, want 3", cfg.Executor.MaxFaultPauses)
	}
	// Untouched defaults survive the file.
	if cfg.Executor.FaultSettleDelay != 2*time.Second {
		t.Errorf("Executor.FaultSettleDelay = %v, want 2s", cfg.Executor.FaultSettleDelay)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
appliance:
  start_switch: ""
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"site.id", "appliance.start_switch"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:   "strong JWT secret",
			mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret },
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name:    "missing drink select",
			mutate:  func(c *Config) { c.Appliance.DrinkSelect = "" },
			wantErr: true,
		},
		{
			name:    "zero start timeout",
			mutate:  func(c *Config) { c.Executor.StartTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative settle delay",
			mutate:  func(c *Config) { c.Executor.FaultSettleDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative fault pauses",
			mutate:  func(c *Config) { c.Executor.MaxFaultPauses = -1 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "redis enabled without address",
			mutate:  func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
			wantErr: true,
		},
		{
			name:   "redis enabled with defaults",
			mutate: func(c *Config) { c.Redis.Enabled = true },
		},
		{
			name:    "missing recipes file",
			mutate:  func(c *Config) { c.Recipes.File = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := timeouts.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v, want 1m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BREWLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BREWLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BREWLOGIC_MQTT_PORT", "8883")
	t.Setenv("BREWLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("BREWLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("BREWLOGIC_API_PORT", "not-a-number")
	t.Setenv("BREWLOGIC_APPLIANCE_BRIDGE", "espresso")
	t.Setenv("BREWLOGIC_RECIPES_FILE", "/etc/brew/recipes.yaml")
	t.Setenv("BREWLOGIC_JWT_SECRET", "jwt-secret")
	t.Setenv("BREWLOGIC_REDIS_ADDRESS", "redis:6379")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want unparsable override ignored (8090)", cfg.API.Port)
	}
	if cfg.Appliance.Bridge != "espresso" {
		t.Errorf("Appliance.Bridge = %q, want %q", cfg.Appliance.Bridge, "espresso")
	}
	if cfg.Recipes.File != "/etc/brew/recipes.yaml" {
		t.Errorf("Recipes.File = %q", cfg.Recipes.File)
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
	if cfg.Redis.Address != "redis:6379" {
		t.Errorf("Redis.Address = %q, want redis:6379", cfg.Redis.Address)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadDotEnv() error = %v, want nil", err)
		}
	})

	t.Run("values feed env overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("BREWLOGIC_MQTT_HOST=dotenv-broker\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("BREWLOGIC_MQTT_HOST", "")
		os.Unsetenv("BREWLOGIC_MQTT_HOST")

		if err := LoadDotEnv(path); err != nil {
			t.Fatalf("LoadDotEnv() error = %v", err)
		}

		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		if cfg.MQTT.Broker.Host != "dotenv-broker" {
			t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "dotenv-broker")
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Executor.StartTimeout != 15*time.Second {
		t.Errorf("StartTimeout = %v, want 15s", cfg.Executor.StartTimeout)
	}
	if cfg.Executor.DefaultStepTimeout != 300*time.Second {
		t.Errorf("DefaultStepTimeout = %v, want 300s", cfg.Executor.DefaultStepTimeout)
	}
	if len(cfg.Appliance.FaultSensors) != 8 {
		t.Errorf("FaultSensors = %d entries, want 8", len(cfg.Appliance.FaultSensors))
	}
	if cfg.AuthEnabled() {
		t.Error("default config should not require authentication")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
