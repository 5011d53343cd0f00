// Package guard implements the two-tier concurrency layer: non-blocking
// per-account operation guards, and a global coordinator serializing
// mint/burn against rebalance with a grace period between operation types.
package guard

import (
	"sync"

	"github.com/basketfi/fund-backend/internal/domain"
)

type guardKey struct {
	account domain.Account
	name    string
}

// AccountGuards hands out named per-account locks. Acquisition never
// blocks: a second acquisition by the same account for the same name fails
// immediately, while different accounts never interfere.
type AccountGuards struct {
	mu   sync.Mutex
	held map[guardKey]struct{}
}

// NewAccountGuards creates an empty guard table.
func NewAccountGuards() *AccountGuards {
	return &AccountGuards{held: make(map[guardKey]struct{})}
}

// Acquire takes the named guard for the account. The returned release
// function is idempotent and safe to defer on every path.
func (g *AccountGuards) Acquire(account domain.Account, name string) (release func(), err error) {
	key := guardKey{account: account, name: name}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, domain.Errorf(domain.KindConcurrency, "guard.acquire",
			"%s operation already in progress for account %s", name, account)
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether the named guard is currently held by the account.
func (g *AccountGuards) Held(account domain.Account, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.held[guardKey{account: account, name: name}]
	return busy
}
