// Package config defines the CDN connection settings used by the sysup
// binary and provides helpers to load, validate and save them in YAML
// format.
package config
