package pooling

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func groupingFor(requests ...*models.RideRequest) *Grouping {
	g := &Grouping{Valid: true, DetourOK: true, Score: 1}
	for i, r := range requests {
		g.Members = append(g.Members, MemberPlan{
			Request:        *r,
			PickupSequence: i + 1,
			DropSequence:   i + 1,
		})
	}
	return g
}

func autoPair(store *storage.MemoryStore) (*models.RideRequest, *models.RideRequest) {
	base := time.Now()
	origin := models.Coord{Lat: 12.97, Lon: 77.59}
	a := poolRequest("req-a", "rider-a", models.VehicleAuto, origin, base)
	b := poolRequest("req-b", "rider-b", models.VehicleAuto, models.Coord{Lat: origin.Lat + latOffset(50), Lon: origin.Lon}, base)
	_ = store.CreateRequest(context.Background(), a)
	_ = store.CreateRequest(context.Background(), b)
	return a, b
}

func TestFinalizeCommitsGroupTripAndLegs(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	a, b := autoPair(store)

	f := NewFinalizer(store, testLogger())
	tripID, ok, err := f.Finalize(ctx, groupingFor(a, b))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || tripID == "" {
		t.Fatal("expected finalize to commit")
	}

	groups := store.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 pool group, got %d", len(groups))
	}
	g := groups[0]
	if g.Status != models.PoolForming || g.VehicleType != models.VehicleAuto {
		t.Fatalf("unexpected group %+v", g)
	}
	if g.CurrentRidersCount != 2 || g.MaxRiders != 3 {
		t.Fatalf("expected count=2 max=3, got count=%d max=%d", g.CurrentRidersCount, g.MaxRiders)
	}

	for _, id := range []string{a.ID, b.ID} {
		r, err := store.GetRequest(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if r.Status != models.RequestPooled {
			t.Fatalf("request %s status = %s, want POOLED", id, r.Status)
		}
		if r.PoolGroupID != g.ID {
			t.Fatalf("request %s group ref = %q, want %q", id, r.PoolGroupID, g.ID)
		}
	}

	trips := store.Trips()
	if len(trips) != 1 || trips[0].ID != tripID {
		t.Fatalf("expected exactly the returned trip, got %+v", trips)
	}
	if trips[0].Status != models.TripRequested || trips[0].DriverUserID != "" {
		t.Fatalf("trip must start REQUESTED and driverless, got %+v", trips[0])
	}
	legs := store.TripRiders(tripID)
	if len(legs) != 2 {
		t.Fatalf("expected 2 trip riders, got %d", len(legs))
	}
	for _, leg := range legs {
		if leg.Status != models.TripRiderJoined {
			t.Fatalf("leg status = %s, want JOINED", leg.Status)
		}
		if leg.PickupSequence == 0 || leg.DropSequence == 0 {
			t.Fatalf("leg missing sequencing: %+v", leg)
		}
	}
}

func TestFinalizeAbortsWhenMemberWasCancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	a, b := autoPair(store)
	grouping := groupingFor(a, b)

	// Rider cancels between selection and finalize.
	if cancelled, err := store.CancelRequest(ctx, b.ID); err != nil || !cancelled {
		t.Fatalf("setup cancel failed: %v", err)
	}

	f := NewFinalizer(store, testLogger())
	tripID, ok, err := f.Finalize(ctx, grouping)
	if err != nil {
		t.Fatalf("contention must not surface as an error: %v", err)
	}
	if ok || tripID != "" {
		t.Fatal("expected not finalized")
	}

	// No side effects at all.
	if len(store.Groups()) != 0 || len(store.Trips()) != 0 {
		t.Fatal("aborted finalize left rows behind")
	}
	r, _ := store.GetRequest(ctx, a.ID)
	if r.Status != models.RequestRequested || r.PoolGroupID != "" {
		t.Fatalf("surviving member mutated: %+v", r)
	}
}

func TestFinalizeRejectsOverCapacityGroup(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	origin := models.Coord{Lat: 12.97, Lon: 77.59}
	var reqs []*models.RideRequest
	for _, id := range []string{"a", "b", "c", "d"} {
		r := poolRequest(id, "rider-"+id, models.VehicleAuto, origin, base)
		_ = store.CreateRequest(ctx, r)
		reqs = append(reqs, r)
	}

	f := NewFinalizer(store, testLogger())
	_, ok, err := f.Finalize(ctx, groupingFor(reqs...))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("4 riders must not fit an AUTO")
	}
	if len(store.Groups()) != 0 {
		t.Fatal("rejected grouping wrote rows")
	}
}

// Three concurrent finalize attempts over the same two requests: exactly one
// commits, the others observe "not finalized", and no duplicate rows exist.
func TestConcurrentFinalizeSingleWinner(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	a, b := autoPair(store)

	f := NewFinalizer(store, testLogger())
	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := f.Finalize(ctx, groupingFor(a, b))
			if err != nil {
				t.Errorf("attempt %d errored: %v", i, err)
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if len(store.Groups()) != 1 || len(store.Trips()) != 1 {
		t.Fatalf("duplicate rows: %d groups, %d trips", len(store.Groups()), len(store.Trips()))
	}
}
