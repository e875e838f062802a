package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/tradegrid/internal/clients"
)

// PoolStats describes a pool's occupancy.
type PoolStats struct {
	Size int `json:"size"`
	Idle int `json:"idle"`
}

// Pool is a fixed-size set of interchangeable clients. Idle members queue in
// return order, so Checkout always yields the least recently used one.
type Pool struct {
	kind clients.Kind
	size int
	idle chan *member
}

type member struct {
	client clients.Client
	index  int
}

// NewPool builds size clients with factory.
func NewPool(kind clients.Kind, size int, factory clients.Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool %q: size must be at least 1, got %d", kind, size)
	}
	if factory == nil {
		return nil, fmt.Errorf("pool %q: no client factory", kind)
	}
	p := &Pool{kind: kind, size: size, idle: make(chan *member, size)}
	for i := 0; i < size; i++ {
		c, err := factory()
		if err != nil {
			return nil, fmt.Errorf("pool %q: failed to create client %d: %w", kind, i, err)
		}
		p.idle <- &member{client: c, index: i}
	}
	return p, nil
}

// Kind returns the client kind served by the pool.
func (p *Pool) Kind() clients.Kind { return p.kind }

// Stats reports size and idle count.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Size: p.size, Idle: len(p.idle)}
}

// Checkout blocks until a member is idle or ctx ends.
func (p *Pool) Checkout(ctx context.Context) (*Loan, error) {
	select {
	case m := <-p.idle:
		return &Loan{pool: p, m: m}, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Return puts the loan's member back at the end of the idle queue. Only the
// first Return of a loan has an effect.
func (p *Pool) Return(l *Loan) {
	if l == nil || l.pool != p || !l.returned.CompareAndSwap(false, true) {
		return
	}
	p.idle <- l.m
}

// Loan is one checkout of a pooled client.
type Loan struct {
	pool     *Pool
	m        *member
	returned atomic.Bool
}

// Client returns the borrowed client.
func (l *Loan) Client() clients.Client { return l.m.client }

// Index identifies which pool member was borrowed.
func (l *Loan) Index() int { return l.m.index }
