// Package env reads process environment variables with typed defaults,
// backing the small allow-listed set the worker inherits plus the logger
// bootstrap's own settings,
// which must be available before the directive-grammar config file has
// even been located (-c/-p resolution happens after logging starts).
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the named variable's value, or def if unset.
func GetEnvOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// GetEnvIntOrDefault parses the named variable as an int, or returns def
// if unset or unparsable.
func GetEnvIntOrDefault(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBoolOrDefault parses the named variable as a bool, or returns def
// if unset or unparsable.
func GetEnvBoolOrDefault(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
