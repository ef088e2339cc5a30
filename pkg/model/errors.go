package model

import "github.com/m-mizutani/goerr/v2"

// Error kinds shared across the tool, orchestrator and cache layers. Wrap them
// with goerr.Wrap and test with errors.Is.
var (
	// ErrResourceMissing means the feature schema or model artifact could not be located.
	ErrResourceMissing = goerr.New("resource missing")

	// ErrResourceCorrupt means an artifact exists but could not be deserialized.
	ErrResourceCorrupt = goerr.New("resource corrupt")

	// ErrInvalidInput means a request violated a precondition.
	ErrInvalidInput = goerr.New("invalid input")

	// ErrToolFailure means a tool failed while computing its result.
	ErrToolFailure = goerr.New("tool failure")

	// ErrUpstreamUnavailable means the planner's language model could not be reached.
	ErrUpstreamUnavailable = goerr.New("upstream unavailable")
)
