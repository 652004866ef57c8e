// Package config provides configuration loading and validation for the
// voice gateway. It handles YAML-based configuration with per-section
// validation; the OpenAI API key is taken from the environment, never
// from the file.
package config
