package guide

import (
	"github.com/SpasticCat/findmycar/internal/geo"
	"github.com/SpasticCat/findmycar/internal/location"
	"github.com/SpasticCat/findmycar/internal/spot"
)

// Guidance is the straight-line ("as the crow flies") result for one
// position/spot pair. Distance and bearing are present only when both a
// current fix and a saved spot exist.
type Guidance struct {
	DistanceM    *float64     `json:"distance_m,omitempty"`
	DistanceText string       `json:"distance_text,omitempty"`
	BearingDeg   *float64     `json:"bearing_deg,omitempty"`
	ArrowDeg     float64      `json:"arrow_deg"`
	Accuracy     geo.Accuracy `json:"accuracy"`
}

// Compute derives distance, target bearing and arrow rotation. Pure: no
// state, recomputed on every input change.
//
// The arrow is the target bearing relative to the direction the user faces,
// normalized into [0,360); it stays at 0 while either bearing or heading is
// unavailable so the UI can render a neutral arrow.
func Compute(fix *location.Fix, headingDeg *float64, saved *spot.Spot) Guidance {
	g := Guidance{Accuracy: geo.AccuracyUnknown}
	if fix != nil {
		g.Accuracy = geo.ClassifyAccuracy(fix.AccuracyM)
	}
	if fix == nil || saved == nil {
		return g
	}

	d := geo.DistanceMeters(fix.Coordinate, saved.Coordinate)
	b := geo.InitialBearingDegrees(fix.Coordinate, saved.Coordinate)
	g.DistanceM = &d
	g.DistanceText = geo.FormatDistance(d)
	g.BearingDeg = &b

	if headingDeg != nil {
		g.ArrowDeg = geo.NormalizeDegrees(b - *headingDeg)
	}
	return g
}
