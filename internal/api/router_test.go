package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/metrics"
	"github.com/vk/tradegrid/internal/pipeline"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/session"
	"github.com/vk/tradegrid/internal/state"
)

type fakeService struct {
	submitted []session.Request
	submitErr error
	events    map[state.RunID]progress.Event
	results   map[state.RunID]progress.Result
	cancelled []state.RunID
}

func (f *fakeService) Submit(ctx context.Context, req session.Request) (state.RunID, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return "run-1", nil
}

func (f *fakeService) Progress(ctx context.Context, id state.RunID) (progress.Event, error) {
	ev, ok := f.events[id]
	if !ok {
		return progress.Event{}, session.ErrRunNotFound
	}
	return ev, nil
}

func (f *fakeService) History(ctx context.Context, id state.RunID) ([]progress.Event, error) {
	ev, err := f.Progress(ctx, id)
	if err != nil {
		return nil, err
	}
	return []progress.Event{ev}, nil
}

func (f *fakeService) Result(ctx context.Context, id state.RunID) (progress.Result, error) {
	res, ok := f.results[id]
	if !ok {
		if _, running := f.events[id]; running {
			return progress.Result{}, fmt.Errorf("%w: %s", session.ErrNotReady, id)
		}
		return progress.Result{}, session.ErrRunNotFound
	}
	return res, nil
}

func (f *fakeService) Cancel(ctx context.Context, id state.RunID) error {
	if id == "broken" {
		return errors.New("store unavailable")
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) Stats() concurrency.Stats {
	return concurrency.Stats{Submitted: 3, Active: 1, MaxRuns: 2}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Submit(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"accepted", `{"symbol":"AAPL","as_of":"2025-01-02","research_depth":3}`, nil, http.StatusAccepted, ""},
		{"malformed", `{"symbol":`, nil, http.StatusBadRequest, ""},
		{"unknown field", `{"ticker":"AAPL"}`, nil, http.StatusBadRequest, ""},
		{"invalid params", `{}`, state.ErrInvalidParams, http.StatusBadRequest, ""},
		{"unknown analyst", `{}`, pipeline.ErrUnknownAnalyst, http.StatusBadRequest, ""},
		{"queue full", `{}`, fmt.Errorf("%w: queue full", concurrency.ErrResourceExhausted), http.StatusServiceUnavailable, "30"},
		{"shutting down", `{}`, session.ErrShuttingDown, http.StatusServiceUnavailable, "30"},
		{"unexpected", `{}`, errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{submitErr: tc.err}
			rec := do(t, NewRouter(svc, Options{}), http.MethodPost, "/api/analysis", tc.body)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantRetry, rec.Header().Get("Retry-After"))
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tc.wantStatus == http.StatusAccepted {
				assert.JSONEq(t, `{"analysis_id":"run-1","status":"pending"}`, rec.Body.String())
				require.Len(t, svc.submitted, 1)
				assert.Equal(t, 3, svc.submitted[0].ResearchDepth)
			}
			if tc.wantStatus == http.StatusInternalServerError {
				assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
			}
		})
	}
}

func TestRouter_Queries(t *testing.T) {
	svc := &fakeService{
		events: map[state.RunID]progress.Event{
			"running": {RunID: "running", Seq: 3, Percent: 40, Status: state.StatusRunning, Stage: "bull"},
			"done":    {RunID: "done", Seq: 9, Percent: 100, Status: state.StatusCompleted},
		},
		results: map[state.RunID]progress.Result{
			"done": {RunID: "done", Status: state.StatusCompleted, Decision: &state.Decision{Action: state.ActionBuy, Confidence: 0.8}},
		},
	}
	router := NewRouter(svc, Options{})

	testCases := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{"progress", http.MethodGet, "/api/analysis/running/progress", http.StatusOK, func(t *testing.T, body []byte) {
			var ev progress.Event
			require.NoError(t, json.Unmarshal(body, &ev))
			assert.Equal(t, 40, ev.Percent)
			assert.Equal(t, state.StatusRunning, ev.Status)
		}},
		{"history", http.MethodGet, "/api/analysis/done/history", http.StatusOK, func(t *testing.T, body []byte) {
			var evs []progress.Event
			require.NoError(t, json.Unmarshal(body, &evs))
			require.Len(t, evs, 1)
			assert.Equal(t, 9, evs[0].Seq)
		}},
		{"progress unknown", http.MethodGet, "/api/analysis/nope/progress", http.StatusNotFound, nil},
		{"result", http.MethodGet, "/api/analysis/done/result", http.StatusOK, func(t *testing.T, body []byte) {
			var res progress.Result
			require.NoError(t, json.Unmarshal(body, &res))
			assert.Equal(t, state.ActionBuy, res.Decision.Action)
		}},
		{"result not ready", http.MethodGet, "/api/analysis/running/result", http.StatusConflict, nil},
		{"result unknown", http.MethodGet, "/api/analysis/nope/result", http.StatusNotFound, nil},
		{"cancel", http.MethodPost, "/api/analysis/running/cancel", http.StatusAccepted, func(t *testing.T, body []byte) {
			assert.JSONEq(t, `{"analysis_id":"running","status":"cancelling"}`, string(body))
		}},
		{"cancel failure", http.MethodPost, "/api/analysis/broken/cancel", http.StatusInternalServerError, nil},
		{"stats", http.MethodGet, "/api/stats", http.StatusOK, func(t *testing.T, body []byte) {
			var s concurrency.Stats
			require.NoError(t, json.Unmarshal(body, &s))
			assert.Equal(t, uint64(3), s.Submitted)
			assert.Equal(t, 2, s.MaxRuns)
		}},
		{"wrong method", http.MethodGet, "/api/analysis", http.StatusMethodNotAllowed, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.check != nil {
				tc.check(t, rec.Body.Bytes())
			}
		})
	}
	assert.Equal(t, []state.RunID{"running"}, svc.cancelled)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RunFinished("completed")

	rec := do(t, NewRouter(&fakeService{}, Options{Gatherer: reg}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradegrid_")

	rec = do(t, NewRouter(&fakeService{}, Options{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
