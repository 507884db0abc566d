package pooling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/storage"
)

type recordingNotifier struct {
	mu       sync.Mutex
	timeouts []string
	formed   []string // trip ids
}

func (n *recordingNotifier) PoolTimeoutDecision(ctx context.Context, req models.RideRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timeouts = append(n.timeouts, req.ID)
}

func (n *recordingNotifier) PoolFormed(ctx context.Context, tripID string, members []models.RideRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.formed = append(n.formed, tripID)
}

func newTestScheduler(store *storage.MemoryStore, n Notifier) *Scheduler {
	logger := testLogger()
	return &Scheduler{
		Store:         store,
		Finder:        &Finder{Store: store, Limit: 10, Logger: logger},
		Evaluator:     &DetourEvaluator{DetourCeiling: 0.10},
		Finalizer:     NewFinalizer(store, logger),
		Notifier:      n,
		Policy:        testPolicy(),
		Interval:      10 * time.Second,
		MaxConcurrent: 1,
		Logger:        logger,
	}
}

// Two AUTO pool requests with pickups 50m apart, same tick: one pool group
// with both riders, one trip with two legs.
func TestTickPoolsNearbyPair(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	origin := models.Coord{Lat: 12.97, Lon: 77.59}
	a := poolRequest("req-a", "rider-a", models.VehicleAuto, origin, base)
	b := poolRequest("req-b", "rider-b", models.VehicleAuto,
		models.Coord{Lat: origin.Lat + latOffset(50), Lon: origin.Lon}, base.Add(time.Second))
	_ = store.CreateRequest(ctx, a)
	_ = store.CreateRequest(ctx, b)

	n := &recordingNotifier{}
	sched := newTestScheduler(store, n)
	sched.Now = func() time.Time { return base.Add(5 * time.Second) }

	sched.RunTick(ctx)

	groups := store.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].CurrentRidersCount != 2 {
		t.Fatalf("expected 2 riders in the group, got %d", groups[0].CurrentRidersCount)
	}
	for _, id := range []string{"req-a", "req-b"} {
		r, _ := store.GetRequest(ctx, id)
		if r.Status != models.RequestPooled || r.PoolGroupID != groups[0].ID {
			t.Fatalf("request %s not pooled into the group: %+v", id, r)
		}
	}
	trips := store.Trips()
	if len(trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(trips))
	}
	if legs := store.TripRiders(trips[0].ID); len(legs) != 2 {
		t.Fatalf("expected 2 trip riders, got %d", len(legs))
	}
	if len(n.formed) != 1 {
		t.Fatalf("expected one formed notification, got %d", len(n.formed))
	}
}

// A lone request over 10 ticks spanning ~95 simulated seconds is flagged for
// a timeout decision after crossing 90s and never reaches POOLED.
func TestLoneRequestTimesOut(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	lone := poolRequest("lone", "rider-l", models.VehicleAuto, models.Coord{Lat: 12.97, Lon: 77.59}, base)
	_ = store.CreateRequest(ctx, lone)

	n := &recordingNotifier{}
	sched := newTestScheduler(store, n)

	var simNow time.Time
	sched.Now = func() time.Time { return simNow }

	for tick := 1; tick <= 10; tick++ {
		simNow = base.Add(time.Duration(float64(tick) * 9.5 * float64(time.Second)))
		sched.RunTick(ctx)
	}

	r, _ := store.GetRequest(ctx, "lone")
	if r.Status == models.RequestPooled {
		t.Fatal("lone request must never pool")
	}
	if r.TimeoutFlaggedAt.IsZero() {
		t.Fatal("expected the timeout flag to be set")
	}
	if len(n.timeouts) != 1 || n.timeouts[0] != "lone" {
		t.Fatalf("expected exactly one timeout notification, got %v", n.timeouts)
	}
	// Flagged requests drop out of the scan entirely.
	open, _ := store.ListOpenPoolRequests(ctx)
	if len(open) != 0 {
		t.Fatalf("flagged request still scanned: %v", ids(open))
	}
}

func TestTimeoutNotReachedJustInsideWindow(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	lone := poolRequest("lone", "rider-l", models.VehicleAuto, models.Coord{Lat: 12.97, Lon: 77.59}, base)
	_ = store.CreateRequest(ctx, lone)

	n := &recordingNotifier{}
	sched := newTestScheduler(store, n)
	sched.Now = func() time.Time { return base.Add(89 * time.Second) }
	sched.RunTick(ctx)

	if len(n.timeouts) != 0 {
		t.Fatal("request inside the window must not be flagged")
	}
	r, _ := store.GetRequest(ctx, "lone")
	if !r.TimeoutFlaggedAt.IsZero() {
		t.Fatal("timeout flag set too early")
	}
}

type faultyEvaluator struct {
	inner Evaluator
	panic bool
}

func (f *faultyEvaluator) Evaluate(ctx context.Context, seed models.RideRequest, candidates []models.RideRequest) (*Grouping, error) {
	if strings.HasPrefix(seed.ID, "bad") {
		if f.panic {
			panic("evaluator exploded")
		}
		return nil, errors.New("scoring service down")
	}
	return f.inner.Evaluate(ctx, seed, candidates)
}

// A fault while processing one request must not stop the others in the same
// tick.
func TestPerRequestFaultIsolation(t *testing.T) {
	for _, viaPanic := range []bool{false, true} {
		store := storage.NewMemoryStore()
		ctx := context.Background()
		base := time.Now()

		// Faulting pair in one city, processed first (oldest).
		badOrigin := models.Coord{Lat: 28.61, Lon: 77.20}
		_ = store.CreateRequest(ctx, poolRequest("bad-1", "rider-1", models.VehicleAuto, badOrigin, base))
		_ = store.CreateRequest(ctx, poolRequest("bad-2", "rider-2", models.VehicleAuto,
			models.Coord{Lat: badOrigin.Lat + latOffset(40), Lon: badOrigin.Lon}, base.Add(time.Second)))

		// Healthy pair in another city.
		goodOrigin := models.Coord{Lat: 12.97, Lon: 77.59}
		_ = store.CreateRequest(ctx, poolRequest("good-1", "rider-3", models.VehicleAuto, goodOrigin, base.Add(2*time.Second)))
		_ = store.CreateRequest(ctx, poolRequest("good-2", "rider-4", models.VehicleAuto,
			models.Coord{Lat: goodOrigin.Lat + latOffset(40), Lon: goodOrigin.Lon}, base.Add(3*time.Second)))

		n := &recordingNotifier{}
		sched := newTestScheduler(store, n)
		sched.Evaluator = &faultyEvaluator{inner: &DetourEvaluator{DetourCeiling: 0.10}, panic: viaPanic}
		sched.Now = func() time.Time { return base.Add(5 * time.Second) }

		sched.RunTick(ctx)

		g1, _ := store.GetRequest(ctx, "good-1")
		g2, _ := store.GetRequest(ctx, "good-2")
		if g1.Status != models.RequestPooled || g2.Status != models.RequestPooled {
			t.Fatalf("viaPanic=%v: healthy pair not pooled (%s, %s)", viaPanic, g1.Status, g2.Status)
		}
		b1, _ := store.GetRequest(ctx, "bad-1")
		if b1.Status != models.RequestRequested {
			t.Fatalf("viaPanic=%v: faulting request should stay REQUESTED, got %s", viaPanic, b1.Status)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	sched := newTestScheduler(store, &recordingNotifier{})
	sched.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
