// Package config handles loading and validating brewlogic configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Optional .env files feeding the environment
//   - Overriding with environment variables
//   - Validation of required fields
//
// Durations are written in Go notation ("15s", "5m").
//
// Usage:
//
//	_ = config.LoadDotEnv(".env")
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Appliance.StartSwitch)
package config
