package geo

import (
	"math"
	"testing"

	"github.com/example/ride-pooling/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is ~111.2km everywhere.
	a := models.Coord{Lat: 12.0, Lon: 77.0}
	b := models.Coord{Lat: 13.0, Lon: 77.0}
	d := Haversine(a, b)
	if math.Abs(d-111195) > 500 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestRouteLengthSumsLegs(t *testing.T) {
	a := models.Coord{Lat: 0, Lon: 0}
	b := models.Coord{Lat: 0, Lon: 0.01}
	c := models.Coord{Lat: 0, Lon: 0.02}
	want := Haversine(a, b) + Haversine(b, c)
	if got := RouteLength([]models.Coord{a, b, c}); math.Abs(got-want) > 1e-6 {
		t.Fatalf("expected %f, got %f", want, got)
	}
	if RouteLength([]models.Coord{a}) != 0 {
		t.Fatal("single stop should be zero length")
	}
}
