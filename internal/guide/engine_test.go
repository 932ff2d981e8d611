package guide

import (
	"math"
	"testing"

	"github.com/SpasticCat/findmycar/internal/geo"
	"github.com/SpasticCat/findmycar/internal/location"
	"github.com/SpasticCat/findmycar/internal/spot"
)

func fixAt(lat, lon, acc float64) *location.Fix {
	return &location.Fix{Coordinate: geo.Coordinate{Lat: lat, Lon: lon}, AccuracyM: acc}
}

func spotAt(lat, lon float64) *spot.Spot {
	return &spot.Spot{Coordinate: geo.Coordinate{Lat: lat, Lon: lon}}
}

func TestComputeNeedsBothInputs(t *testing.T) {
	heading := 90.0
	cases := []struct {
		name    string
		fix     *location.Fix
		heading *float64
		spot    *spot.Spot
	}{
		{"no fix", nil, &heading, spotAt(1, 1)},
		{"no spot", fixAt(1, 1, 5), &heading, nil},
		{"neither", nil, nil, nil},
	}
	for _, tc := range cases {
		g := Compute(tc.fix, tc.heading, tc.spot)
		if g.DistanceM != nil || g.BearingDeg != nil {
			t.Errorf("%s: distance/bearing present with missing input", tc.name)
		}
		if g.ArrowDeg != 0 {
			t.Errorf("%s: arrow = %v, want 0", tc.name, g.ArrowDeg)
		}
	}
}

func TestComputeDistanceAndBearing(t *testing.T) {
	// Spot due east of the fix.
	g := Compute(fixAt(0, 0, 5), nil, spotAt(0, 0.01))
	if g.DistanceM == nil || g.BearingDeg == nil {
		t.Fatal("distance/bearing missing with both inputs present")
	}
	if math.Abs(*g.BearingDeg-90) > 0.1 {
		t.Errorf("bearing = %v, want ~90", *g.BearingDeg)
	}
	// 0.01 deg of longitude at the equator is ~1.11 km.
	if *g.DistanceM < 1000 || *g.DistanceM > 1250 {
		t.Errorf("distance = %v m, want ~1113", *g.DistanceM)
	}
	if g.DistanceText == "" {
		t.Error("empty formatted distance")
	}
}

func TestArrowRelativeToHeading(t *testing.T) {
	// Target due east, user facing north: arrow points right (90).
	h := 0.0
	g := Compute(fixAt(0, 0, 5), &h, spotAt(0, 0.01))
	if math.Abs(g.ArrowDeg-90) > 0.1 {
		t.Errorf("arrow = %v, want ~90", g.ArrowDeg)
	}

	// Facing east already: arrow straight ahead.
	h = 90
	g = Compute(fixAt(0, 0, 5), &h, spotAt(0, 0.01))
	if g.ArrowDeg > 0.1 && g.ArrowDeg < 359.9 {
		t.Errorf("arrow = %v, want ~0", g.ArrowDeg)
	}

	// Facing south: arrow wraps to ~270, never negative.
	h = 180
	g = Compute(fixAt(0, 0, 5), &h, spotAt(0, 0.01))
	if math.Abs(g.ArrowDeg-270) > 0.1 {
		t.Errorf("arrow = %v, want ~270", g.ArrowDeg)
	}
}

func TestArrowZeroWithoutHeading(t *testing.T) {
	g := Compute(fixAt(0, 0, 5), nil, spotAt(0, 0.01))
	if g.ArrowDeg != 0 {
		t.Errorf("arrow = %v without heading, want 0", g.ArrowDeg)
	}
}

func TestArrowAlwaysInRange(t *testing.T) {
	headings := []float64{0, 45, 90.5, 179.9, 270, 359.99}
	spots := []*spot.Spot{spotAt(0.02, 0.01), spotAt(-0.01, -0.03), spotAt(0.005, 0)}
	for _, h := range headings {
		hh := h
		for _, sp := range spots {
			g := Compute(fixAt(0, 0, 5), &hh, sp)
			if g.ArrowDeg < 0 || g.ArrowDeg >= 360 {
				t.Errorf("arrow %v outside [0,360) for heading %v", g.ArrowDeg, h)
			}
		}
	}
}

func TestAccuracyPassthrough(t *testing.T) {
	if g := Compute(fixAt(0, 0, 5), nil, nil); g.Accuracy != geo.AccuracyHigh {
		t.Errorf("accuracy = %v, want high", g.Accuracy)
	}
	if g := Compute(fixAt(0, 0, -1), nil, nil); g.Accuracy != geo.AccuracyUnknown {
		t.Errorf("accuracy = %v, want unknown", g.Accuracy)
	}
	if g := Compute(nil, nil, nil); g.Accuracy != geo.AccuracyUnknown {
		t.Errorf("accuracy = %v, want unknown", g.Accuracy)
	}
}
