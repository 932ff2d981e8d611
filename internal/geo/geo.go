package geo

import (
	"fmt"
	"math"
)

const (
	earthRadiusM = 6371000.0 // mean Earth radius
	metersPerMi  = 1609.344
	feetPerMeter = 3.280839895
)

// Coordinate is a WGS 84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is inside the WGS 84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// DistanceMeters returns the great-circle distance between a and b using the
// haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// InitialBearingDegrees returns the forward azimuth from a toward b in
// [0,360). The result for a == b is not meaningful.
func InitialBearingDegrees(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeDegrees(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeDegrees maps an angle into [0,360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// FormatDistance renders a distance for display: feet below one mile
// (nearest foot under 1000 ft, nearest 100 ft above), miles otherwise
// (one decimal below 10 mi, whole miles from 10 mi up).
func FormatDistance(meters float64) string {
	if meters < metersPerMi {
		ft := meters * feetPerMeter
		if ft < 1000 {
			return fmt.Sprintf("%.0f ft", ft)
		}
		return fmt.Sprintf("%.0f ft", math.Round(ft/100)*100)
	}
	mi := meters / metersPerMi
	if mi < 10 {
		return fmt.Sprintf("%.1f mi", mi)
	}
	return fmt.Sprintf("%.0f mi", mi)
}

// Accuracy buckets a fix's horizontal accuracy radius.
type Accuracy string

const (
	AccuracyUnknown Accuracy = "unknown"
	AccuracyHigh    Accuracy = "high"
	AccuracyMedium  Accuracy = "medium"
	AccuracyPoor    Accuracy = "poor"
)

// ClassifyAccuracy buckets an accuracy radius in meters. Pass a negative
// value (or NaN) when the radius is unknown.
func ClassifyAccuracy(meters float64) Accuracy {
	switch {
	case meters < 0 || math.IsNaN(meters):
		return AccuracyUnknown
	case meters <= 10:
		return AccuracyHigh
	case meters <= 30:
		return AccuracyMedium
	default:
		return AccuracyPoor
	}
}
