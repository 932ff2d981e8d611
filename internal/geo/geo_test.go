package geo

import (
	"math"
	"testing"
)

func TestDistanceSymmetricAndZero(t *testing.T) {
	a := Coordinate{Lat: 43.6532, Lon: -79.3832}
	b := Coordinate{Lat: 43.7000, Lon: -79.4000}

	if d := DistanceMeters(a, a); d != 0 {
		t.Errorf("distance(a,a) = %v, want 0", d)
	}
	ab := DistanceMeters(a, b)
	ba := DistanceMeters(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("asymmetric distance: %v vs %v", ab, ba)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude is ~111.2 km.
	a := Coordinate{Lat: 0, Lon: 0}
	b := Coordinate{Lat: 1, Lon: 0}
	d := DistanceMeters(a, b)
	if d < 110_000 || d > 112_500 {
		t.Errorf("distance for 1 deg latitude = %v m, want ~111.2 km", d)
	}
}

func TestInitialBearing(t *testing.T) {
	origin := Coordinate{Lat: 0, Lon: 0}
	cases := []struct {
		name string
		to   Coordinate
		want float64
	}{
		{"north", Coordinate{Lat: 1, Lon: 0}, 0},
		{"east", Coordinate{Lat: 0, Lon: 1}, 90},
		{"south", Coordinate{Lat: -1, Lon: 0}, 180},
		{"west", Coordinate{Lat: 0, Lon: -1}, 270},
	}
	for _, tc := range cases {
		got := InitialBearingDegrees(origin, tc.to)
		if math.Abs(got-tc.want) > 0.01 {
			t.Errorf("%s: bearing = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBearingRange(t *testing.T) {
	coords := []Coordinate{
		{Lat: 43.65, Lon: -79.38},
		{Lat: -33.86, Lon: 151.20},
		{Lat: 51.50, Lon: -0.12},
		{Lat: 35.68, Lon: 139.69},
	}
	for _, a := range coords {
		for _, b := range coords {
			if a == b {
				continue
			}
			got := InitialBearingDegrees(a, b)
			if got < 0 || got >= 360 {
				t.Errorf("bearing(%v,%v) = %v, outside [0,360)", a, b, got)
			}
		}
	}
}

func TestNormalizeDegrees(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{360, 0},
		{-90, 270},
		{450, 90},
		{-720, 0},
		{359.5, 359.5},
	}
	for _, tc := range cases {
		if got := NormalizeDegrees(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatDistance(t *testing.T) {
	cases := []struct {
		meters float64
		want   string
	}{
		{0, "0 ft"},
		{152.4, "500 ft"},       // 500 ft exactly
		{100, "328 ft"},         // nearest foot below 1000 ft
		{350, "1100 ft"},        // 1148 ft -> nearest 100
		{1609.344, "1.0 mi"},    // one mile
		{4023.36, "2.5 mi"},     // 2.5 mi
		{16093.44, "10 mi"},     // ten miles, no decimals
		{48280.32, "30 mi"},
	}
	for _, tc := range cases {
		if got := FormatDistance(tc.meters); got != tc.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tc.meters, got, tc.want)
		}
	}
}

func TestClassifyAccuracy(t *testing.T) {
	cases := []struct {
		meters float64
		want   Accuracy
	}{
		{5, AccuracyHigh},
		{10, AccuracyHigh},
		{20, AccuracyMedium},
		{30, AccuracyMedium},
		{100, AccuracyPoor},
		{-1, AccuracyUnknown},
		{math.NaN(), AccuracyUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyAccuracy(tc.meters); got != tc.want {
			t.Errorf("ClassifyAccuracy(%v) = %q, want %q", tc.meters, got, tc.want)
		}
	}
}

func TestCoordinateValid(t *testing.T) {
	if !(Coordinate{Lat: 43.65, Lon: -79.38}).Valid() {
		t.Error("valid coordinate rejected")
	}
	for _, c := range []Coordinate{{Lat: 91}, {Lat: -91}, {Lon: 181}, {Lon: -181}} {
		if c.Valid() {
			t.Errorf("coordinate %v accepted, want rejected", c)
		}
	}
}
