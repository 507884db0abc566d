package pooling

import (
	"context"
	"log/slog"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/storage"
)

// Finder locates other open pool requests near a seed request's pickup.
// When a Redis geo index is configured it is used as a spatial prefilter;
// the store re-applies the status, class and distance filters either way, so
// index staleness can only shrink the candidate set, never pollute it.
type Finder struct {
	Store  storage.Store
	Index  *geo.RedisIndex // optional
	Limit  int
	Logger *slog.Logger
}

// Find returns candidate requests compatible with the seed within
// radiusMeters of its pickup, newest first, capped at the fan-out limit.
// Bikes never pool, so a BIKE seed yields no candidates.
func (f *Finder) Find(ctx context.Context, seed models.RideRequest, radiusMeters float64) ([]models.RideRequest, error) {
	if seed.VehicleType == models.VehicleBike {
		return nil, nil
	}
	if f.Index != nil {
		cands, err := f.findViaIndex(ctx, seed, radiusMeters)
		if err == nil {
			return cands, nil
		}
		if f.Logger != nil {
			f.Logger.Warn("geo index lookup failed, falling back to store query",
				"request_id", seed.ID, "error", err)
		}
	}
	return f.Store.NearbyPoolCandidates(ctx, seed, radiusMeters, f.Limit)
}

func (f *Finder) findViaIndex(ctx context.Context, seed models.RideRequest, radiusMeters float64) ([]models.RideRequest, error) {
	ids, err := f.Index.Nearby(ctx, seed.Pickup, radiusMeters, f.Limit, seed.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := f.Store.GetRequestsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.RideRequest, 0, len(rows))
	for _, r := range rows {
		if r.ID == seed.ID || r.Status != models.RequestRequested || r.RideType != models.RidePool {
			continue
		}
		if r.VehicleType != seed.VehicleType || !r.TimeoutFlaggedAt.IsZero() {
			continue
		}
		if geo.Haversine(seed.Pickup, r.Pickup) > radiusMeters {
			continue
		}
		out = append(out, r)
		if len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
