package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// ErrConflict is returned from inside a finalize transaction when the locked
// row set no longer matches the intended members. The transaction rolls back
// and the caller reports "not finalized" rather than a fault.
var ErrConflict = errors.New("storage: rows claimed concurrently")

// ErrNotFound is returned for lookups of unknown request ids.
var ErrNotFound = errors.New("storage: not found")

// Tx exposes the writes the pool finalizer performs inside one transaction.
type Tx interface {
	// LockRequestedByIDs locks the given ride requests for write, filtered
	// to status REQUESTED. Rows that were cancelled, pooled or otherwise
	// moved on since the read snapshot are silently absent from the result.
	LockRequestedByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error)
	CreatePoolGroup(ctx context.Context, g *models.PoolGroup) error
	// MarkRequestPooled sets status POOLED and the group reference on one
	// locked request.
	MarkRequestPooled(ctx context.Context, requestID, groupID string) error
	CreateTrip(ctx context.Context, t *models.Trip) error
	CreateTripRider(ctx context.Context, tr *models.TripRider) error
}

// Store is the persistence boundary for the pooling engine and the intake
// API. Implementations must provide great-circle radius filtering and
// row-level write locks inside InTx.
type Store interface {
	// ListOpenPoolRequests returns REQUESTED pool requests that have not
	// been flagged for a timeout decision, oldest first.
	ListOpenPoolRequests(ctx context.Context) ([]models.RideRequest, error)

	// NearbyPoolCandidates returns open pool requests of the seed's vehicle
	// class with pickups within radiusMeters of the seed's pickup,
	// excluding the seed, newest first, capped at limit.
	NearbyPoolCandidates(ctx context.Context, seed models.RideRequest, radiusMeters float64, limit int) ([]models.RideRequest, error)

	// GetRequestsByIDs fetches requests by id; unknown ids are skipped.
	GetRequestsByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error)

	// FlagSearchTimeout records that the request searched past the timeout
	// window, removing it from future scheduler scans. No-op if the request
	// already left REQUESTED or was already flagged.
	FlagSearchTimeout(ctx context.Context, requestID string, at time.Time) error

	// InTx runs fn inside a single transaction; any error rolls every write
	// back.
	InTx(ctx context.Context, fn func(Tx) error) error

	CreateRequest(ctx context.Context, r *models.RideRequest) error
	GetRequest(ctx context.Context, id string) (*models.RideRequest, error)
	// CancelRequest moves a request to CANCELLED if it is still REQUESTED,
	// reporting whether the transition happened.
	CancelRequest(ctx context.Context, id string) (bool, error)
}
