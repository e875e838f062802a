package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vk/tradegrid/internal/clients"
)

// StaticClient answers every request with text.
func StaticClient(text string) clients.Client {
	return clients.Func(func(ctx context.Context, req clients.Request) (clients.Response, error) {
		if err := ctx.Err(); err != nil {
			return clients.Response{}, context.Cause(ctx)
		}
		return clients.Response{Content: text}, nil
	})
}

// BlockingClient never answers; it returns the cause of ctx once it ends.
func BlockingClient() clients.Client {
	return clients.Func(func(ctx context.Context, req clients.Request) (clients.Response, error) {
		<-ctx.Done()
		return clients.Response{}, context.Cause(ctx)
	})
}

// CountingFactory hands out c and counts how many instances were built.
type CountingFactory struct {
	Client clients.Client
	built  atomic.Int32
}

// Build implements clients.Factory.
func (f *CountingFactory) Build() (clients.Client, error) {
	f.built.Add(1)
	return f.Client, nil
}

// Built returns the number of instances created so far.
func (f *CountingFactory) Built() int { return int(f.built.Load()) }

// Clients is a stage.Clients that routes each kind to a fixed client and
// records every request.
type Clients struct {
	ByKind map[clients.Kind]clients.Client

	mu       sync.Mutex
	requests []KindRequest
}

// KindRequest is one recorded Invoke call.
type KindRequest struct {
	Kind    clients.Kind
	Request clients.Request
}

// OfflineClients routes every kind to clients.Offline.
func OfflineClients() *Clients {
	return &Clients{ByKind: map[clients.Kind]clients.Client{
		clients.KindLLM:  clients.Offline{},
		clients.KindData: clients.Offline{},
	}}
}

// Invoke implements stage.Clients.
func (c *Clients) Invoke(ctx context.Context, kind clients.Kind, req clients.Request) (clients.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, KindRequest{Kind: kind, Request: req})
	c.mu.Unlock()
	cl, ok := c.ByKind[kind]
	if !ok {
		return clients.Response{}, fmt.Errorf("no test client for kind %q", kind)
	}
	return cl.Invoke(ctx, req)
}

// Requests returns every recorded call in order.
func (c *Clients) Requests() []KindRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}
