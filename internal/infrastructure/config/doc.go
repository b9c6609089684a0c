// Package config loads and validates the HomeControl Core configuration.
//
// Configuration is read from a YAML file, with selected values overridable
// via HOMECONTROL_* environment variables. Load() applies defaults first,
// then the file, then the environment, then validates the result.
package config
