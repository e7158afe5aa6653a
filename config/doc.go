// Package config loads and validates the streamfan configuration.
//
// Configuration comes from JSON or YAML files layered over defaults, with
// STREAMFAN_* environment overrides applied last. Validation is fail-fast:
// a config with no destinations, no routing entries, or a routing entry
// naming an unknown destination refuses to start the process.
package config
