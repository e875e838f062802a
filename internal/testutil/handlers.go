package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
)

// Recorder counts handler invocations per stage.
type Recorder struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{calls: make(map[string]int)}
}

// Wrap returns a handler that records every call to h under name.
func (r *Recorder) Wrap(name string, h stage.Handler) stage.Handler {
	return stage.NewFunc(h.Kind(), func(ctx context.Context, v state.View, cs stage.Clients) (stage.Result, error) {
		r.mu.Lock()
		r.calls[name]++
		r.order = append(r.order, name)
		r.mu.Unlock()
		return h.Run(ctx, v, cs)
	}, h.Labels()...)
}

// Calls returns how often name was invoked.
func (r *Recorder) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// Order returns stage names in invocation order.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Noop returns a handler that produces nothing and returns LabelNext.
func Noop() stage.Handler {
	return stage.NewFunc(stage.KindFunc, func(context.Context, state.View, stage.Clients) (stage.Result, error) {
		return stage.Result{Label: stage.LabelNext}, nil
	})
}

// Produce returns a handler writing an artifact called name.
func Produce(name string) stage.Handler {
	return stage.NewFunc(stage.KindAnalyst, func(ctx context.Context, v state.View, _ stage.Clients) (stage.Result, error) {
		return stage.Result{
			Delta: state.Delta{Artifact: &state.Artifact{Name: name, Content: fmt.Sprintf("%s report for %s", name, v.Params().Symbol)}},
			Label: stage.LabelNext,
		}, nil
	})
}

// Argue returns a debate handler that contributes one argument and always
// answers label.
func Argue(label stage.Label) stage.Handler {
	return stage.NewFunc(stage.KindResearcher, func(ctx context.Context, v state.View, _ stage.Clients) (stage.Result, error) {
		return stage.Result{Delta: state.Delta{Argument: &state.Argument{Text: "argument"}}, Label: label}, nil
	}, stage.LabelContinue, stage.LabelConclude)
}

// Decide returns a handler recording a final decision.
func Decide(action state.Action) stage.Handler {
	return stage.NewFunc(stage.KindRiskManager, func(ctx context.Context, v state.View, _ stage.Clients) (stage.Result, error) {
		return stage.Result{Delta: state.Delta{Decision: &state.Decision{Action: action, Rationale: "test decision"}}, Label: stage.LabelNext}, nil
	})
}

// Fail returns a handler that always fails with err.
func Fail(err error) stage.Handler {
	return stage.NewFunc(stage.KindFunc, func(context.Context, state.View, stage.Clients) (stage.Result, error) {
		return stage.Result{}, err
	})
}

// Block returns a handler that waits until ctx ends, then returns its cause.
func Block() stage.Handler {
	return stage.NewFunc(stage.KindFunc, func(ctx context.Context, _ state.View, _ stage.Clients) (stage.Result, error) {
		<-ctx.Done()
		return stage.Result{}, context.Cause(ctx)
	})
}

// Gate returns a handler that waits for a token on release, then produces an
// artifact called name. It returns the cause of ctx if that ends first.
func Gate(name string, release <-chan struct{}) stage.Handler {
	return stage.NewFunc(stage.KindFunc, func(ctx context.Context, _ state.View, _ stage.Clients) (stage.Result, error) {
		select {
		case <-release:
			return stage.Result{Delta: state.Delta{Artifact: &state.Artifact{Name: name}}, Label: stage.LabelNext}, nil
		case <-ctx.Done():
			return stage.Result{}, context.Cause(ctx)
		}
	})
}

// Call returns a handler that invokes one client of kind and stores the
// answer as an artifact called name.
func Call(name string, kind clients.Kind) stage.Handler {
	return stage.NewFunc(stage.KindAnalyst, func(ctx context.Context, v state.View, cs stage.Clients) (stage.Result, error) {
		resp, err := cs.Invoke(ctx, kind, clients.Request{Operation: name, Params: map[string]string{"symbol": v.Params().Symbol}})
		if err != nil {
			return stage.Result{}, err
		}
		return stage.Result{Delta: state.Delta{Artifact: &state.Artifact{Name: name, Content: resp.Content}}, Label: stage.LabelNext}, nil
	})
}
