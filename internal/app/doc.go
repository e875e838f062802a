// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle, decoupled
// from any specific entrypoint like a CLI or server.
//
// An App runs in one of two modes: as a long-running HTTP service accepting
// analyses through the API, or once, executing a single analysis and writing
// its result to the output writer.
package app
