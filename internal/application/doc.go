// Package application provides application initialization and dependency wiring.
// It turns a resolved configuration into the header rule, API router, static
// and image handlers, optional telemetry and bundle analysis add-ons, and the
// HTTP server, keeping the main package focused on CLI parsing and shutdown.
package application
