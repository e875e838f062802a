// Package hcl provides the concrete HCL implementation of config.Loader.
// It is responsible for file discovery, parsing, and translating HCL blocks
// into the format-agnostic pipeline model.
//
// A pipeline file may contain these top-level blocks:
//
//	engine { entry = "dispatch"  step_ceiling = 64  run_timeout = "10m" }
//	stage "<kind>" "<name>" { next = "..."  routes = {...}  terminal = true  options { ... } }
//	fan_out "<name>" { from = "..."  members = [...]  join = "..."  selectable = true }
//	debate "<name>" { members = [...]  max_rounds = 2  exit = "..." }
//	research_depth "<level>" { rounds = { investment = 2, risk = 1 } }
//
// Blocks may be spread over any number of files; they are merged in the
// order the files are discovered.
package hcl
