// Package config loads the agent configuration file.
//
// YAML is the default format. Files ending in .toml are decoded as TOML.
// Timings are whole seconds. The first transport is the active one; the
// rest form the failover chain in order.
package config
