package geo

import (
	"math"

	"github.com/example/ride-pooling/internal/models"
)

// Haversine distance in meters
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// RouteLength sums the great-circle legs of an ordered stop list.
func RouteLength(stops []models.Coord) float64 {
	var total float64
	for i := 1; i < len(stops); i++ {
		total += Haversine(stops[i-1], stops[i])
	}
	return total
}
