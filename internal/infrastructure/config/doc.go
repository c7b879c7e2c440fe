// Package config handles loading and validating ampmatter-core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with AMPMATTER_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Broker credentials and the InfluxDB token should be set via environment
// variables rather than committed to config.yaml.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.URL)
package config
