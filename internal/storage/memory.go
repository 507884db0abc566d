package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

// MemoryStore implements Store in process memory. It exists for tests and
// local runs without Postgres. A single mutex stands in for row locks: a
// transaction holds it start to commit, so concurrent finalize attempts
// serialize exactly as they would against FOR UPDATE locks, and the later
// one sees the earlier one's status writes during its re-check.
type MemoryStore struct {
	mu         sync.Mutex
	requests   map[string]*models.RideRequest
	groups     map[string]*models.PoolGroup
	trips      map[string]*models.Trip
	tripRiders []models.TripRider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.RideRequest),
		groups:   make(map[string]*models.PoolGroup),
		trips:    make(map[string]*models.Trip),
	}
}

func (m *MemoryStore) ListOpenPoolRequests(ctx context.Context) ([]models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RideRequest
	for _, r := range m.requests {
		if r.Status == models.RequestRequested && r.RideType == models.RidePool && r.TimeoutFlaggedAt.IsZero() {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (m *MemoryStore) NearbyPoolCandidates(ctx context.Context, seed models.RideRequest, radiusMeters float64, limit int) ([]models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RideRequest
	for _, r := range m.requests {
		if r.ID == seed.ID || r.Status != models.RequestRequested || r.RideType != models.RidePool {
			continue
		}
		if r.VehicleType != seed.VehicleType || !r.TimeoutFlaggedAt.IsZero() {
			continue
		}
		if geo.Haversine(seed.Pickup, r.Pickup) > radiusMeters {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetRequestsByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RideRequest
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) FlagSearchTimeout(ctx context.Context, requestID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if r.Status == models.RequestRequested && r.TimeoutFlaggedAt.IsZero() {
		r.TimeoutFlaggedAt = at
	}
	return nil
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked()
	if err := fn(&memTx{s: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CancelRequest(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.RequestRequested {
		return false, nil
	}
	r.Status = models.RequestCancelled
	return true, nil
}

// Groups returns all pool groups, for assertions in tests.
func (m *MemoryStore) Groups() []models.PoolGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PoolGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g)
	}
	return out
}

// Trips returns all trips, for assertions in tests.
func (m *MemoryStore) Trips() []models.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, *t)
	}
	return out
}

// TripRiders returns the legs recorded for a trip.
func (m *MemoryStore) TripRiders(tripID string) []models.TripRider {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TripRider
	for _, tr := range m.tripRiders {
		if tr.TripID == tripID {
			out = append(out, tr)
		}
	}
	return out
}

type memSnapshot struct {
	requests   map[string]*models.RideRequest
	groups     map[string]*models.PoolGroup
	trips      map[string]*models.Trip
	tripRiders []models.TripRider
}

func (m *MemoryStore) snapshotLocked() memSnapshot {
	s := memSnapshot{
		requests:   make(map[string]*models.RideRequest, len(m.requests)),
		groups:     make(map[string]*models.PoolGroup, len(m.groups)),
		trips:      make(map[string]*models.Trip, len(m.trips)),
		tripRiders: append([]models.TripRider(nil), m.tripRiders...),
	}
	for id, r := range m.requests {
		cp := *r
		s.requests[id] = &cp
	}
	for id, g := range m.groups {
		cp := *g
		s.groups[id] = &cp
	}
	for id, t := range m.trips {
		cp := *t
		s.trips[id] = &cp
	}
	return s
}

func (m *MemoryStore) restoreLocked(s memSnapshot) {
	m.requests = s.requests
	m.groups = s.groups
	m.trips = s.trips
	m.tripRiders = s.tripRiders
}

type memTx struct {
	s *MemoryStore
}

func (t *memTx) LockRequestedByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error) {
	var out []models.RideRequest
	for _, id := range ids {
		if r, ok := t.s.requests[id]; ok && r.Status == models.RequestRequested {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *memTx) CreatePoolGroup(ctx context.Context, g *models.PoolGroup) error {
	cp := *g
	t.s.groups[g.ID] = &cp
	return nil
}

func (t *memTx) MarkRequestPooled(ctx context.Context, requestID, groupID string) error {
	r, ok := t.s.requests[requestID]
	if !ok || r.Status != models.RequestRequested {
		return ErrConflict
	}
	r.Status = models.RequestPooled
	r.PoolGroupID = groupID
	return nil
}

func (t *memTx) CreateTrip(ctx context.Context, tr *models.Trip) error {
	cp := *tr
	t.s.trips[tr.ID] = &cp
	return nil
}

func (t *memTx) CreateTripRider(ctx context.Context, tr *models.TripRider) error {
	t.s.tripRiders = append(t.s.tripRiders, *tr)
	return nil
}
