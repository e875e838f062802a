// Package registry provides the central "glue" for the module system.
//
// The Registry maps the stage kinds named in pipeline definitions (e.g.
// "market_analyst") to the Go factories that build their handlers. Modules
// register their factories at startup; the pipeline compiler then resolves
// every declared stage by kind, so no handler is ever looked up by runtime
// type inspection.
//
// Validate checks a pipeline's stage declarations against the registered
// kinds and reports every mismatch at once, so a broken pipeline file fails
// fast at startup rather than on the first run.
package registry
