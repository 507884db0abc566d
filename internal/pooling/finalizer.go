package pooling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
	"github.com/example/ride-pooling/internal/storage"
)

// Finalizer turns an accepted grouping into persisted rows: one PoolGroup,
// one driverless Trip and a TripRider leg per member, with every member
// request flipped to POOLED. The whole conversion runs in one store
// transaction behind row locks; losing the race to a concurrent tick or a
// rider cancellation is a normal outcome, reported as not finalized.
type Finalizer struct {
	Store  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewFinalizer(store storage.Store, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
	}
}

// Finalize commits the grouping. It returns the created trip id and true on
// success, or false when the member set was claimed or changed since
// selection. Errors are reserved for store faults; the caller retries the
// seed naturally on a later tick either way.
func (f *Finalizer) Finalize(ctx context.Context, g *Grouping) (string, bool, error) {
	if g == nil || !g.Valid || !g.DetourOK {
		return "", false, nil
	}
	vehicle := g.VehicleType()
	capacity := models.PoolCapacity(vehicle)
	if len(g.Members) < 2 || len(g.Members) > capacity {
		return "", false, nil
	}
	for _, m := range g.Members {
		// A mixed-class grouping means the selection snapshot is stale or
		// the evaluator misbehaved; abort rather than commit it.
		if m.Request.VehicleType != vehicle {
			f.Logger.Warn("rejecting mixed vehicle class grouping",
				"expected", vehicle, "got", m.Request.VehicleType, "request_id", m.Request.ID)
			return "", false, nil
		}
	}

	ids := g.RequestIDs()
	now := f.Now()
	var tripID string

	err := f.Store.InTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.LockRequestedByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(locked) != len(ids) {
			return storage.ErrConflict
		}

		group := &models.PoolGroup{
			ID:                 f.NewID(),
			Status:             models.PoolForming,
			VehicleType:        vehicle,
			CurrentRidersCount: len(locked),
			MaxRiders:          capacity,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreatePoolGroup(ctx, group); err != nil {
			return err
		}
		for _, m := range g.Members {
			if err := tx.MarkRequestPooled(ctx, m.Request.ID, group.ID); err != nil {
				return err
			}
		}

		trip := &models.Trip{
			ID:        f.NewID(),
			Status:    models.TripRequested,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateTrip(ctx, trip); err != nil {
			return err
		}
		for _, m := range g.Members {
			leg := &models.TripRider{
				TripID:         trip.ID,
				RiderUserID:    m.Request.RiderUserID,
				Pickup:         m.Request.Pickup,
				Drop:           m.Request.Drop,
				PickupSequence: m.PickupSequence,
				DropSequence:   m.DropSequence,
				Status:         models.TripRiderJoined,
			}
			if err := tx.CreateTripRider(ctx, leg); err != nil {
				return err
			}
		}
		tripID = trip.ID
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		observability.FinalizeConflict.Inc()
		f.Logger.Debug("finalize lost to concurrent claim", "request_ids", ids)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	observability.PoolsFormed.Inc()
	observability.PoolRidersPooled.Add(float64(len(g.Members)))
	f.Logger.Info("pool finalized",
		"trip_id", tripID, "vehicle_type", vehicle, "riders", len(g.Members))
	return tripID, true, nil
}
