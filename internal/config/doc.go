// Package config handles configuration loading for redub.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, layered over Default,
// with environment variable expansion and per-field environment overrides.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from REDUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/redub/redub.yaml
//  3. ~/.config/redub/redub.yaml
//
// A path ending in .toml is parsed as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	relay:
//	  jwt_secret: "${REDUB_JWT_SECRET}"
//
// # Environment Overrides
//
// After the file is parsed, REDUB_-prefixed variables override single fields.
// The name follows the section path:
//
//	REDUB_CHANNEL_TIMEOUT=30s
//	REDUB_TRANSPORTS_REDIS_ENABLED=true
//	REDUB_TRANSPORTS_RELAY_ADDRS=relay-a:50061,relay-b:50061
//	REDUB_LOG_LEVEL=debug
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	channel:
//	  timeout: "10s"
//
// A channel timeout of "0s" disables dedup expiry.
//
// # Validation
//
// Load validates the result: enabled transports need their address, path or
// topic, and logging level and format must be recognized.
package config
