// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// Ingest, detection management, the index worker and repair share a
// Coordinator so that mutations of one image are applied in order.
// Every storage call is bounded by the configured operation timeout.
package services
