// Package socketio pushes run progress to a Socket.IO server so browser
// clients can follow analyses in real time.
package socketio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Realtime event names.
const (
	EventStarted   = "analysis_started"
	EventProgress  = "analysis_progress"
	EventCompleted = "analysis_completed"
	EventError     = "analysis_error"
)

// Config describes the Socket.IO endpoint.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Publisher is a report.Sink emitting one Socket.IO event per progress event.
type Publisher struct {
	emit  func(event string, payload any)
	close func()
}

// Connect dials the server and waits for the namespace handshake.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)
	logger.Info("Connecting progress publisher...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Progress publisher connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", context.Cause(ctx))
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	return &Publisher{
		emit:  func(event string, payload any) { io.Emit(event, payload) },
		close: func() { io.Disconnect() },
	}, nil
}

// Publish emits ev under its realtime event name. Pending events are not
// pushed; subscribers learn about a run when it starts.
func (p *Publisher) Publish(ctx context.Context, ev progress.Event) error {
	name, ok := EventName(ev)
	if !ok {
		return nil
	}
	p.emit(name, Payload(ev))
	return nil
}

// Close disconnects from the server.
func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// EventName maps a progress event to its realtime event name.
func EventName(ev progress.Event) (string, bool) {
	switch ev.Status {
	case state.StatusRunning:
		if ev.Stage == "" {
			return EventStarted, true
		}
		return EventProgress, true
	case state.StatusCompleted:
		return EventCompleted, true
	case state.StatusFailed, state.StatusCancelled:
		return EventError, true
	default:
		return "", false
	}
}

// Payload is the body sent with every realtime event.
func Payload(ev progress.Event) map[string]any {
	body := map[string]any{
		"analysis_id": ev.RunID.String(),
		"progress":    ev.Percent,
		"status":      ev.Status.String(),
		"message":     ev.Message,
		"timestamp":   ev.Time.UTC().Format(time.RFC3339),
	}
	if ev.Stage != "" {
		body["current_step"] = ev.Stage
	}
	if ev.Cause != progress.CauseNone {
		body["error"] = string(ev.Cause)
	}
	return body
}
