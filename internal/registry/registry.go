package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vk/tradegrid/internal/config"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ErrUnknownKind is returned when no factory is registered for a stage kind.
var ErrUnknownKind = errors.New("unknown stage kind")

// Module is the interface that all stage modules must implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Spec is what a factory receives: the stage's name and its options.
type Spec struct {
	Kind    string
	Name    string
	Options map[string]cty.Value
}

// Factory builds the handler of one declared stage.
type Factory func(spec Spec) (stage.Handler, error)

// Registered is a factory plus the option names it understands.
type Registered struct {
	Factory Factory
	Options []string
}

// Registry holds all registered stage factories for a single application
// instance.
type Registry struct {
	kinds map[string]*Registered
}

// New creates an empty registry and registers every module given.
func New(modules ...Module) *Registry {
	r := &Registry{kinds: make(map[string]*Registered)}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterStage registers the factory for kind. Registering a kind twice is a
// programming error and panics.
func (r *Registry) RegisterStage(kind string, reg *Registered) {
	if _, exists := r.kinds[kind]; exists {
		panic(fmt.Sprintf("stage kind '%s' already registered", kind))
	}
	slog.Debug("Registering stage kind.", "kind", kind)
	r.kinds[kind] = reg
}

// Kinds returns every registered kind, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Build resolves spec.Kind and builds its handler.
func (r *Registry) Build(spec Spec) (stage.Handler, error) {
	reg, ok := r.kinds[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q for stage %q", ErrUnknownKind, spec.Kind, spec.Name)
	}
	h, err := reg.Factory(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build stage %q of kind %q: %w", spec.Name, spec.Kind, err)
	}
	return h, nil
}

// Validate performs a strict parity check between declared stages and
// registered kinds: unknown kinds, duplicate stage names and unsupported
// options are all reported together.
func (r *Registry) Validate(ctx context.Context, stages []*config.Stage) error {
	logger := ctxlog.FromContext(ctx)
	var errs []string
	seen := make(map[string]bool, len(stages))

	for _, s := range stages {
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("stage '%s': declared more than once", s.Name))
		}
		seen[s.Name] = true

		reg, ok := r.kinds[s.Kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("stage '%s': kind '%s' is not registered", s.Name, s.Kind))
			continue
		}
		for opt := range s.Options {
			if !slices.Contains(reg.Options, opt) {
				errs = append(errs, fmt.Sprintf("stage '%s': kind '%s' does not support option '%s'", s.Name, s.Kind, opt))
			}
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validation passed.", "stages", len(stages))
	return nil
}

// String returns the option name as a string, or def when it is unset.
func (s Spec) String(name, def string) (string, error) {
	var out string
	ok, err := s.decode(name, &out)
	if !ok || err != nil {
		return def, err
	}
	return out, nil
}

// Float returns the option name as a float64, or def when it is unset.
func (s Spec) Float(name string, def float64) (float64, error) {
	var out float64
	ok, err := s.decode(name, &out)
	if !ok || err != nil {
		return def, err
	}
	return out, nil
}

func (s Spec) decode(name string, out any) (bool, error) {
	v, ok := s.Options[name]
	if !ok || v.IsNull() {
		return false, nil
	}
	if err := gocty.FromCtyValue(v, out); err != nil {
		return false, fmt.Errorf("option %q of stage %q: %w", name, s.Name, err)
	}
	return true, nil
}
