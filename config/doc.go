// Package config loads the toolmesh YAML configuration.
//
// Relative file paths (dotenv files) are resolved against the directory of
// the configuration file. Durations are Go duration strings ("30s", "2m").
package config
