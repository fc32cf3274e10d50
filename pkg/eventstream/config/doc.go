/*
Package config loads event runtime settings.

# Overview

Config wraps a map[string]any and provides typed accessors that fall back
to a default when a key is missing or cannot be converted. Settings is the
typed view the runtime and CLI use, built from a Config.

# Sources

Settings are layered, later sources winning:

 1. Built-in defaults (DefaultSettings)
 2. A YAML, JSON or TOML file (FromFile)
 3. WATCHTOWER_* environment variables, e.g. WATCHTOWER_REDIS_URL

	s, err := config.Load("watchtower.yaml")
	if err != nil {
	    log.Fatal(err)
	}

# Type Coercion

Environment values arrive as strings, so every accessor also parses
strings: "30s" for durations, "100" for integers, "true" for booleans.
Durations given as numbers are seconds.
*/
package config
