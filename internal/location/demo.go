package location

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// DemoProvider simulates a pedestrian wandering around a parking lot.
// Useful for development without a GPS source.
type DemoProvider struct {
	mu sync.Mutex
	t  float64

	// DenyPermission makes RequestPermission fail, for exercising the
	// permission-denied path.
	DenyPermission bool
}

func NewDemoProvider() *DemoProvider { return &DemoProvider{} }

func (d *DemoProvider) Name() string { return "Demo (Simulated)" }

func (d *DemoProvider) RequestPermission(_ context.Context) error {
	if d.DenyPermission {
		return ErrPermissionDenied
	}
	return nil
}

func (d *DemoProvider) Close() error { return nil }

func (d *DemoProvider) CurrentFix(_ context.Context) (Fix, error) {
	return d.nextFix(), nil
}

func (d *DemoProvider) WatchPosition(ctx context.Context, cfg WatchConfig) (<-chan Fix, error) {
	out := make(chan Fix, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var last *Fix
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fix := d.nextFix()
				if last != nil && cfg.MinMoveMeters > 0 &&
					geo.DistanceMeters(last.Coordinate, fix.Coordinate) < cfg.MinMoveMeters {
					continue
				}
				f := fix
				last = &f
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (d *DemoProvider) WatchHeading(ctx context.Context) (<-chan Heading, error) {
	out := make(chan Heading, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.mu.Lock()
				deg := math.Mod(d.t*12, 360)
				d.mu.Unlock()
				select {
				case out <- Heading{TrueDeg: deg, HasTrue: true}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// nextFix walks a slow loop around a fixed point, ~120 m radius.
func (d *DemoProvider) nextFix() Fix {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 1

	centerLat := 43.6532 // Toronto
	centerLon := -79.3832
	radius := 0.0011 // ~120 m

	return Fix{
		Coordinate: geo.Coordinate{
			Lat: centerLat + radius*math.Sin(d.t*0.02),
			Lon: centerLon + radius*math.Cos(d.t*0.02),
		},
		AccuracyM:  4 + rand.Float64()*8,
		ObservedAt: time.Now(),
	}
}
