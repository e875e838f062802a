package concurrency

import (
	"context"
	"sync"

	"github.com/vk/tradegrid/internal/clients"
)

// Lease tracks every client a run has checked out. It implements
// stage.Clients, so handlers never touch the pools directly.
type Lease struct {
	c      *Controller
	mu     sync.Mutex
	loans  map[*Loan]struct{}
	closed bool
}

// Invoke checks out a client of kind for the duration of one call.
func (l *Lease) Invoke(ctx context.Context, kind clients.Kind, req clients.Request) (clients.Response, error) {
	loan, err := l.checkout(ctx, kind)
	if err != nil {
		return clients.Response{}, err
	}
	defer l.giveBack(loan)
	return loan.Client().Invoke(ctx, req)
}

func (l *Lease) checkout(ctx context.Context, kind clients.Kind) (*Loan, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrLeaseClosed
	}

	loan, err := l.c.Checkout(ctx, kind)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.c.Return(loan)
		return nil, ErrLeaseClosed
	}
	l.loans[loan] = struct{}{}
	return loan, nil
}

func (l *Lease) giveBack(loan *Loan) {
	l.mu.Lock()
	delete(l.loans, loan)
	l.mu.Unlock()
	l.c.Return(loan)
}

// Outstanding returns the number of clients currently checked out.
func (l *Lease) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loans)
}

// ReleaseAll returns every outstanding client and refuses further checkouts.
// It reports how many loans had to be reclaimed.
func (l *Lease) ReleaseAll() int {
	l.mu.Lock()
	l.closed = true
	loans := l.loans
	l.loans = make(map[*Loan]struct{})
	l.mu.Unlock()

	for loan := range loans {
		l.c.Return(loan)
	}
	return len(loans)
}
