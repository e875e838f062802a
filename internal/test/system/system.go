// Package system holds end-to-end helpers: a probe module whose stage kinds
// are configured from pipeline files, and a runner that drives one analysis
// through a fully wired app.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/app"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/session"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/testutil"
)

// ProbeModule registers test stage kinds:
//
//	probe       writes an artifact (option "artifact", default the stage name)
//	rendezvous  waits until "party" stages of its kind have started
//	arguer      adds a debate argument and always asks to continue
//	broken      fails with option "message"
//	decide      requires the artifacts listed in "requires" and records HOLD
//
// Every invocation is counted in Recorder.
type ProbeModule struct {
	Recorder *testutil.Recorder
	// Timeout bounds how long a rendezvous waits. Defaults to 5s.
	Timeout time.Duration

	arrived atomic.Int32
	once    sync.Once
	all     chan struct{}
}

// NewProbeModule returns a ready module.
func NewProbeModule() *ProbeModule {
	return &ProbeModule{Recorder: testutil.NewRecorder(), all: make(chan struct{})}
}

// Register implements registry.Module.
func (m *ProbeModule) Register(r *registry.Registry) {
	r.RegisterStage("probe", &registry.Registered{
		Options: []string{"artifact"},
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			name, err := spec.String("artifact", spec.Name)
			if err != nil {
				return nil, err
			}
			return m.Recorder.Wrap(spec.Name, testutil.Produce(name)), nil
		},
	})
	r.RegisterStage("rendezvous", &registry.Registered{
		Options: []string{"party"},
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			party, err := spec.Float("party", 1)
			if err != nil {
				return nil, err
			}
			return m.Recorder.Wrap(spec.Name, m.rendezvous(spec.Name, int32(party))), nil
		},
	})
	r.RegisterStage("arguer", &registry.Registered{
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			return m.Recorder.Wrap(spec.Name, testutil.Argue(stage.LabelContinue)), nil
		},
	})
	r.RegisterStage("broken", &registry.Registered{
		Options: []string{"message"},
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			msg, err := spec.String("message", "broken stage")
			if err != nil {
				return nil, err
			}
			return m.Recorder.Wrap(spec.Name, testutil.Fail(errors.New(msg))), nil
		},
	})
	r.RegisterStage("decide", &registry.Registered{
		Options: []string{"requires"},
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			requires, err := spec.String("requires", "")
			if err != nil {
				return nil, err
			}
			return m.Recorder.Wrap(spec.Name, decide(strings.Fields(requires))), nil
		},
	})
}

func (m *ProbeModule) rendezvous(name string, party int32) stage.Handler {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return stage.NewFunc(stage.KindFunc, func(ctx context.Context, _ state.View, _ stage.Clients) (stage.Result, error) {
		if m.arrived.Add(1) >= party {
			m.once.Do(func() { close(m.all) })
		}
		select {
		case <-m.all:
			return stage.Result{Delta: state.Delta{Artifact: &state.Artifact{Name: name}}, Label: stage.LabelNext}, nil
		case <-ctx.Done():
			return stage.Result{}, context.Cause(ctx)
		case <-time.After(timeout):
			return stage.Result{}, fmt.Errorf("only %d of %d stages arrived", m.arrived.Load(), party)
		}
	})
}

func decide(requires []string) stage.Handler {
	return stage.NewFunc(stage.KindRiskManager, func(ctx context.Context, v state.View, _ stage.Clients) (stage.Result, error) {
		for _, name := range requires {
			if _, ok := v.Artifact(name); !ok {
				return stage.Result{}, fmt.Errorf("artifact %q missing at decision time", name)
			}
		}
		return stage.Result{
			Delta: state.Delta{Decision: &state.Decision{Action: state.ActionHold, Rationale: "probe decision"}},
			Label: stage.LabelNext,
		}, nil
	})
}

// Request is the analysis RunPipeline callers usually submit.
func Request() session.Request {
	return session.Request{Symbol: "TEST", AsOf: "2025-01-02"}
}

// RunPipeline writes pipeline to a temp file, wires an app around it with
// the given modules and runs req to completion.
func RunPipeline(t *testing.T, pipeline string, req session.Request, modules ...registry.Module) (progress.Result, *testutil.SafeBuffer) {
	t.Helper()
	a, logs, ctx := startPipeline(t, pipeline, modules...)

	id, err := a.Manager().Submit(ctx, req)
	require.NoError(t, err)
	res, err := a.Manager().Wait(ctx, id)
	require.NoError(t, err)
	return res, logs
}

// SubmitPipeline is RunPipeline for requests expected to be turned away: it
// returns the Submit error and fails the test if a run was created.
func SubmitPipeline(t *testing.T, pipeline string, req session.Request, modules ...registry.Module) error {
	t.Helper()
	a, _, ctx := startPipeline(t, pipeline, modules...)

	_, err := a.Manager().Submit(ctx, req)
	require.Error(t, err)
	require.Zero(t, a.Manager().Stats().Submitted, "a rejected request must not create a run")
	return err
}

func startPipeline(t *testing.T, pipeline string, modules ...registry.Module) (*app.App, *testutil.SafeBuffer, context.Context) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0o600), "failed to write pipeline file")

	cfg := app.TestConfig()
	cfg.PipelinePath = path
	a, logs := app.SetupAppTest(t, cfg, modules...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, logs, ctx
}
