// Package config handles loading and validating the stream writer configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with OHMAGE_* environment variables
//   - Validation of required fields, reported together
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Writer.Transport)
package config
