// Package config loads, normalizes, and validates studio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STUDIO_API_TOKEN. Directories that are not set explicitly are derived from
// data_dir and output_dir so a minimal file is enough to run the daemon.
package config
