// Package app is the composition root of the estimation server. It loads
// configuration, initializes logging and telemetry, opens the run store and
// dataset loader, wires the services and handlers, and owns the HTTP server's
// lifecycle including graceful shutdown.
package app
