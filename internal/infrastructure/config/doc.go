// Package config handles loading and validating ESD core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ESD_* environment variables
//   - Validation of required fields and sequencer tuning
//   - Default value handling
//
// Secrets (JWT secret, MQTT password, InfluxDB token) should be supplied
// through the environment and the config file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/esd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	retries := cfg.Sequencer.CommandRetries
package config
