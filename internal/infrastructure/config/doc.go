// Package config handles loading and validating ziggy configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with ZIGGY_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("ZIGGY_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Zigbee2MQTT.BaseTopic)
package config
