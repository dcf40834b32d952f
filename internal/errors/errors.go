// Package errors holds the sentinel errors shared by the agent packages.
package errors

import "errors"

var (
	// Lifecycle errors
	ErrAgentStopped    = errors.New("agent is not accepting events")
	ErrAgentNotStarted = errors.New("agent not started")

	// Transport errors
	ErrNotConnected    = errors.New("transport not connected")
	ErrTransportClosed = errors.New("transport closed")
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Event errors
	ErrUnknownThread      = errors.New("unknown thread")
	ErrUnknownProfileKind = errors.New("unknown profile kind")
	ErrProfileInProgress  = errors.New("profile already in progress")
	ErrQueueFull          = errors.New("export queue full")

	// Exporter errors
	ErrMetricNotFound    = errors.New("metric not found")
	ErrUnknownMetricType = errors.New("unknown metric type")
)
