package location

import (
	"context"
	"log"
	"sync"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// Tracker owns the current position fix and compass heading. Each update
// replaces the previous value outright; there is no smoothing. Position and
// heading watches run concurrently and independently.
type Tracker struct {
	prov Provider
	cfg  WatchConfig

	mu         sync.Mutex
	cancel     context.CancelFunc
	fix        *Fix
	headingDeg float64
	hasHeading bool
}

// NewTracker wraps a provider. A zero MinMoveMeters in cfg defaults to the
// 5 m walking threshold.
func NewTracker(prov Provider, cfg WatchConfig) *Tracker {
	if cfg.MinMoveMeters == 0 {
		cfg.MinMoveMeters = 5
	}
	return &Tracker{prov: prov, cfg: cfg}
}

// Start requests permission and begins both watches. ErrPermissionDenied is
// returned to the caller and never retried here.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.prov.RequestPermission(ctx); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	positions, err := t.prov.WatchPosition(watchCtx, t.cfg)
	if err != nil {
		cancel()
		return err
	}
	headings, err := t.prov.WatchHeading(watchCtx)
	if err != nil {
		cancel()
		return err
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		for fix := range positions {
			f := fix
			t.mu.Lock()
			t.fix = &f
			t.mu.Unlock()
		}
	}()
	go func() {
		for h := range headings {
			deg, ok := pickHeading(h)
			if !ok {
				continue // neither true nor magnetic: no state change
			}
			t.mu.Lock()
			t.headingDeg = deg
			t.hasHeading = true
			t.mu.Unlock()
		}
	}()

	log.Printf("[location] tracking via %s (min move %.0f m)", t.prov.Name(), t.cfg.MinMoveMeters)
	return nil
}

// Stop releases both watches. Safe to call repeatedly or before Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Current returns the latest fix, ok=false before the first update.
func (t *Tracker) Current() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fix == nil {
		return Fix{}, false
	}
	return *t.fix, true
}

// Heading returns the latest heading in [0,360), ok=false before the first
// usable sample.
func (t *Tracker) Heading() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headingDeg, t.hasHeading
}

// pickHeading prefers true heading over magnetic and normalizes to [0,360).
func pickHeading(h Heading) (float64, bool) {
	switch {
	case h.HasTrue:
		return geo.NormalizeDegrees(h.TrueDeg), true
	case h.HasMagnetic:
		return geo.NormalizeDegrees(h.MagneticDeg), true
	default:
		return 0, false
	}
}
