// Package config provides the configuration of findsim: defaults, the
// YAML configuration file, credential environment variables and validation.
package config
