// Package config loads the audit stream client's YAML configuration.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing. Defaults are applied for optional fields and the result is
// validated before use.
package config
