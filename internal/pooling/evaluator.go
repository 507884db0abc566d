package pooling

import (
	"context"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

// MemberPlan is one rider's slot in a proposed group: the request plus the
// visiting order of their pickup and drop along the shared route.
type MemberPlan struct {
	Request        models.RideRequest
	PickupSequence int
	DropSequence   int
}

// Grouping is an evaluator's verdict on a seed plus candidate set.
type Grouping struct {
	Members  []MemberPlan
	Valid    bool
	Score    float64
	DetourOK bool
}

// VehicleType returns the group's vehicle class. Members always share one
// class; the finder filters on it.
func (g *Grouping) VehicleType() models.VehicleType {
	if len(g.Members) == 0 {
		return ""
	}
	return g.Members[0].Request.VehicleType
}

// RequestIDs returns the member request identifiers in plan order.
func (g *Grouping) RequestIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.Request.ID
	}
	return ids
}

// Evaluator decides whether a valid group exists for a seed request and a
// radius-filtered candidate set. A nil Grouping with nil error means
// no-match; errors are reserved for genuine faults (e.g. a scoring service
// being unreachable with no fallback). The sequencing/scoring algorithm is a
// replaceable strategy: implementations must only honor the hard
// constraints (capacity by vehicle class, per-member detour ceiling,
// members drawn from the candidate set).
type Evaluator interface {
	Evaluate(ctx context.Context, seed models.RideRequest, candidates []models.RideRequest) (*Grouping, error)
}

// DetourEvaluator is the default local heuristic. It grows the group
// greedily in candidate order, sequences all pickups before all drops, and
// admits a candidate only while every member's shared-route distance stays
// within the detour ceiling of their solo distance.
type DetourEvaluator struct {
	DetourCeiling float64 // fractional, 0.10 = 10%
}

func (e *DetourEvaluator) Evaluate(ctx context.Context, seed models.RideRequest, candidates []models.RideRequest) (*Grouping, error) {
	maxRiders := models.PoolCapacity(seed.VehicleType)
	if maxRiders < 2 || len(candidates) == 0 {
		return nil, nil
	}

	members := []models.RideRequest{seed}
	var best *Grouping
	for _, c := range candidates {
		if len(members) == maxRiders {
			break
		}
		if c.VehicleType != seed.VehicleType || c.ID == seed.ID {
			continue
		}
		tentative := append(append([]models.RideRequest(nil), members...), c)
		if g := e.plan(tentative); g != nil {
			members = tentative
			best = g
		}
	}
	return best, nil
}

// plan sequences the proposed members and checks the detour ceiling,
// returning nil when any member's detour exceeds it.
func (e *DetourEvaluator) plan(members []models.RideRequest) *Grouping {
	n := len(members)
	// Shared route: pickups in member order, then drops nearest-neighbor
	// from the last pickup.
	stops := make([]models.Coord, 0, 2*n)
	for _, m := range members {
		stops = append(stops, m.Pickup)
	}
	dropOrder := nearestNeighborDrops(members, stops[n-1])
	for _, idx := range dropOrder {
		stops = append(stops, members[idx].Drop)
	}

	dropSeq := make([]int, n) // member index -> drop sequence (1-based)
	for pos, idx := range dropOrder {
		dropSeq[idx] = pos + 1
	}

	var detourSum float64
	plans := make([]MemberPlan, n)
	for i, m := range members {
		solo := geo.Haversine(m.Pickup, m.Drop)
		// Rider i boards at stop i and alights at stop n-1+dropSeq[i].
		shared := geo.RouteLength(stops[i : n+dropSeq[i]])
		var detour float64
		if solo > 0 {
			detour = (shared - solo) / solo
		} else if shared > 0 {
			return nil
		}
		if detour > e.DetourCeiling {
			return nil
		}
		detourSum += detour
		plans[i] = MemberPlan{Request: m, PickupSequence: i + 1, DropSequence: dropSeq[i]}
	}

	avgDetour := detourSum / float64(n)
	return &Grouping{
		Members:  plans,
		Valid:    true,
		Score:    float64(n) - avgDetour,
		DetourOK: true,
	}
}

// nearestNeighborDrops orders member drop points greedily from the given
// start, returning member indices.
func nearestNeighborDrops(members []models.RideRequest, start models.Coord) []int {
	n := len(members)
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	order := make([]int, 0, n)
	cur := start
	for len(remaining) > 0 {
		bestPos := 0
		bestDist := geo.Haversine(cur, members[remaining[0]].Drop)
		for pos := 1; pos < len(remaining); pos++ {
			if d := geo.Haversine(cur, members[remaining[pos]].Drop); d < bestDist {
				bestPos, bestDist = pos, d
			}
		}
		idx := remaining[bestPos]
		order = append(order, idx)
		cur = members[idx].Drop
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return order
}
