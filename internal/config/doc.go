// Package config loads, normalizes, and validates lidarscan configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as BACKEND_URL and the COMPRESSION_IMAGE_* /
// POTREE_CONVERTER_IMAGE_* worker image variables. Command-line flags are
// layered on top through Overrides.
//
// The resulting Config is built once per invocation and passed explicitly to
// the scanner and dispatcher; there is no process-wide configuration state.
package config
