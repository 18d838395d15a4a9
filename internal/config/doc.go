// Package config loads, normalizes, and validates digipub configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for partner,
// identifier service and aggregator credentials. The Config type is built once
// at startup and injected into every component; a missing ingest root or
// partner credential fails the load instead of surfacing mid-pass.
package config
