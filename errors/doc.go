// Package errors provides the shared error vocabulary for the IoT Data
// Bridge: classified wrapping (transient, invalid, fatal) for component
// faults, and the per-event terminal outcomes (unmapped tag, no targets,
// value cast) the pipeline orchestrator branches on.
package errors
