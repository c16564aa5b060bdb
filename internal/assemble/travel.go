// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package assemble

import "math"

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Emission factors in kgCO2e per passenger-km by trip length.
var footprintBands = []struct {
	below  float64
	factor float64
}{
	{400, 0.06},  // ground transport
	{1500, 0.2},  // short-haul flight
	{8000, 0.25}, // long-haul flight
	{math.Inf(1), 0.3},
}

// FootprintT returns the round-trip travel footprint in tCO2e for a
// one-way distance in km.
func FootprintT(distanceKm float64) float64 {
	for _, b := range footprintBands {
		if distanceKm < b.below {
			return distanceKm * 2 * b.factor / 1000
		}
	}
	return 0
}
