package pooling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/storage"
)

// latOffset approximates the given meters as degrees of latitude.
func latOffset(meters float64) float64 { return meters / 111195.0 }

func poolRequest(id, rider string, vehicle models.VehicleType, pickup models.Coord, requestedAt time.Time) *models.RideRequest {
	return &models.RideRequest{
		ID:          id,
		RiderUserID: rider,
		Pickup:      pickup,
		Drop:        models.Coord{Lat: pickup.Lat + 0.05, Lon: pickup.Lon},
		RideType:    models.RidePool,
		VehicleType: vehicle,
		Status:      models.RequestRequested,
		RequestedAt: requestedAt,
	}
}

func TestFinderBikeSeedNeverPools(t *testing.T) {
	store := storage.NewMemoryStore()
	base := time.Now()
	seed := poolRequest("seed", "r0", models.VehicleBike, models.Coord{Lat: 12.97, Lon: 77.59}, base)
	other := poolRequest("other", "r1", models.VehicleBike, models.Coord{Lat: 12.97, Lon: 77.59}, base)
	_ = store.CreateRequest(context.Background(), seed)
	_ = store.CreateRequest(context.Background(), other)

	f := &Finder{Store: store, Limit: 10}
	got, err := f.Find(context.Background(), *seed, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates for a bike seed, got %d", len(got))
	}
}

func TestFinderFiltersByRadiusClassAndStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	origin := models.Coord{Lat: 12.9700, Lon: 77.5900}

	seed := poolRequest("seed", "r0", models.VehicleAuto, origin, base)
	near := poolRequest("near", "r1", models.VehicleAuto, models.Coord{Lat: origin.Lat + latOffset(80), Lon: origin.Lon}, base.Add(time.Second))
	far := poolRequest("far", "r2", models.VehicleAuto, models.Coord{Lat: origin.Lat + latOffset(900), Lon: origin.Lon}, base)
	cab := poolRequest("cab", "r3", models.VehicleCab, origin, base)
	pooled := poolRequest("pooled", "r4", models.VehicleAuto, origin, base)
	pooled.Status = models.RequestPooled
	pooled.PoolGroupID = "g1"
	for _, r := range []*models.RideRequest{seed, near, far, cab, pooled} {
		_ = store.CreateRequest(ctx, r)
	}

	f := &Finder{Store: store, Limit: 10}
	got, err := f.Find(ctx, *seed, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("expected only 'near', got %v", ids(got))
	}

	// A wider radius picks up the far request too.
	got, err = f.Find(ctx, *seed, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates at 1000m, got %v", ids(got))
	}
}

func TestFinderCapsFanOut(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	origin := models.Coord{Lat: 12.97, Lon: 77.59}
	seed := poolRequest("seed", "r0", models.VehicleAuto, origin, base)
	_ = store.CreateRequest(ctx, seed)
	for i := 0; i < 8; i++ {
		r := poolRequest(fmt.Sprintf("c%d", i), fmt.Sprintf("r%d", i+1), models.VehicleAuto, origin, base.Add(time.Duration(i)*time.Second))
		_ = store.CreateRequest(ctx, r)
	}

	f := &Finder{Store: store, Limit: 3}
	got, err := f.Find(ctx, *seed, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected fan-out cap of 3, got %d", len(got))
	}
	// Newest first.
	if got[0].ID != "c7" {
		t.Fatalf("expected newest candidate first, got %v", ids(got))
	}
}

func ids(rs []models.RideRequest) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
