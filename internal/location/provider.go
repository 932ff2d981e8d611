package location

import (
	"context"
	"errors"
	"time"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// ErrPermissionDenied means the platform refused location access. Not
// retriable until the user grants access out of band.
var ErrPermissionDenied = errors.New("location: permission denied")

// Fix is a single position reading. AccuracyM is the horizontal accuracy
// radius in meters, negative when the source did not report one.
type Fix struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	AccuracyM  float64        `json:"accuracy_m"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Heading is a raw compass sample. True heading is preferred over magnetic;
// a sample carrying neither is discarded by the tracker.
type Heading struct {
	TrueDeg     float64
	MagneticDeg float64
	HasTrue     bool
	HasMagnetic bool
}

// WatchConfig tunes continuous position observation.
type WatchConfig struct {
	// MinMoveMeters suppresses position updates closer than this to the
	// previously delivered fix.
	MinMoveMeters float64
}

// Provider is the interface for location data sources.
type Provider interface {
	Name() string
	// RequestPermission acquires whatever access the source needs (OS
	// permission, serial port, broker connection). Returns
	// ErrPermissionDenied when access is refused.
	RequestPermission(ctx context.Context) error
	// CurrentFix returns the most recent fix, blocking briefly if none has
	// been observed yet.
	CurrentFix(ctx context.Context) (Fix, error)
	// WatchPosition streams fixes until ctx is cancelled. The channel is
	// closed when the watch ends.
	WatchPosition(ctx context.Context, cfg WatchConfig) (<-chan Fix, error)
	// WatchHeading streams compass samples until ctx is cancelled.
	WatchHeading(ctx context.Context) (<-chan Heading, error)
	Close() error
}
