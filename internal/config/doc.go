// Package config defines the format-agnostic pipeline model and the Loader
// interface that concrete formats implement.
//
// The config.Model is the single source of truth for the pipeline package,
// which turns it into compiled graphs. Concrete loaders, such as the HCL one,
// live in separate packages.
package config
