package premium

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/SpasticCat/findmycar/internal/keyvalue"
)

var (
	// ErrPremiumRequired gates premium-only features. Recoverable through
	// purchase or restore.
	ErrPremiumRequired = errors.New("premium: entitlement required")
	// ErrUserCancelled is returned by Service.Purchase when the user backs
	// out. The gate treats it as a no-op, not a failure.
	ErrUserCancelled = errors.New("premium: purchase cancelled by user")
)

// Snapshot is the set of active entitlement ids reported by the backend.
type Snapshot struct {
	Active []string `json:"active"`
}

// Has reports whether the snapshot contains the given entitlement.
func (s Snapshot) Has(entitlement string) bool {
	for _, id := range s.Active {
		if id == entitlement {
			return true
		}
	}
	return false
}

// Service is the external entitlement/purchase backend.
type Service interface {
	Entitlements(ctx context.Context) (Snapshot, error)
	Purchase(ctx context.Context, product string) (Snapshot, error)
	Restore(ctx context.Context) (Snapshot, error)
}

// Gate caches the premium flag. The remote service is authoritative; the
// persisted value is only a startup hint. A failed refresh keeps the last
// cached value and never blocks location or guidance features.
type Gate struct {
	svc         Service
	kv          keyvalue.Store
	entitlement string

	mu     sync.Mutex
	active bool
}

// NewGate creates a gate checking for the named entitlement id.
func NewGate(svc Service, kv keyvalue.Store, entitlement string) *Gate {
	return &Gate{svc: svc, kv: kv, entitlement: entitlement}
}

// Init loads the persisted hint so the first frame renders the likely tier
// before the network round-trip finishes.
func (g *Gate) Init(ctx context.Context) {
	raw, ok, err := g.kv.Get(ctx, keyvalue.KeyPremiumCache)
	if err != nil {
		log.Printf("[premium] cache read failed: %v", err)
		return
	}
	if !ok {
		return
	}
	g.mu.Lock()
	g.active = string(raw) == "1"
	g.mu.Unlock()
}

// Refresh queries the backend and updates the cached flag. On error the
// cached value stands (degraded, non-fatal).
func (g *Gate) Refresh(ctx context.Context) bool {
	snap, err := g.svc.Entitlements(ctx)
	if err != nil {
		log.Printf("[premium] entitlement check failed, keeping cached value: %v", err)
		return g.IsActive()
	}
	return g.apply(ctx, snap)
}

// IsActive returns the cached flag synchronously. Callers needing strong
// freshness should Refresh first.
func (g *Gate) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Purchase buys the product and applies the resulting entitlement snapshot.
// A user-cancelled purchase leaves the gate unchanged and returns no error.
func (g *Gate) Purchase(ctx context.Context, product string) (bool, error) {
	snap, err := g.svc.Purchase(ctx, product)
	if errors.Is(err, ErrUserCancelled) {
		return g.IsActive(), nil
	}
	if err != nil {
		return g.IsActive(), err
	}
	return g.apply(ctx, snap), nil
}

// Restore re-applies previous purchases.
func (g *Gate) Restore(ctx context.Context) (bool, error) {
	snap, err := g.svc.Restore(ctx)
	if err != nil {
		return g.IsActive(), err
	}
	return g.apply(ctx, snap), nil
}

func (g *Gate) apply(ctx context.Context, snap Snapshot) bool {
	active := snap.Has(g.entitlement)
	g.mu.Lock()
	changed := g.active != active
	g.active = active
	g.mu.Unlock()
	if changed {
		log.Printf("[premium] entitlement active=%v", active)
	}

	// Best-effort cache; a write failure only degrades the next startup hint.
	v := []byte("0")
	if active {
		v = []byte("1")
	}
	if err := g.kv.Set(ctx, keyvalue.KeyPremiumCache, v); err != nil {
		log.Printf("[premium] cache write failed: %v", err)
	}
	return active
}
