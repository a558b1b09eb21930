// Package config loads service configuration from environment variables,
// with identity-provider settings (certificates, keys, endpoints) overlaid
// from a YAML file.
package config
