// Package ipc is the CLI's client for a running studio daemon.
//
// The daemon's only control surface is its HTTP API; this package wraps those
// routes with typed calls returning api DTOs, attaches the bearer token, and
// bounds every call with a timeout so CLI commands fail fast when the daemon
// is offline. Events subscribes to the websocket push channel used by the
// terminal monitor.
package ipc
