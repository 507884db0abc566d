package pooling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
	"github.com/example/ride-pooling/internal/storage"
)

// CandidateFinder yields open pool requests near a seed's pickup.
type CandidateFinder interface {
	Find(ctx context.Context, seed models.RideRequest, radiusMeters float64) ([]models.RideRequest, error)
}

// PoolFinalizer commits a grouping, reporting (tripID, finalized, fault).
type PoolFinalizer interface {
	Finalize(ctx context.Context, g *Grouping) (string, bool, error)
}

// Notifier is the rider-facing boundary. Both calls are fire-and-forget;
// delivery failures are the notifier's problem, not the scheduler's.
type Notifier interface {
	// PoolTimeoutDecision signals that the pool search window lapsed and
	// the rider must decide how to proceed. The scheduler never guesses:
	// no auto-conversion to solo happens here.
	PoolTimeoutDecision(ctx context.Context, req models.RideRequest)
	// PoolFormed announces a committed pool to its members.
	PoolFormed(ctx context.Context, tripID string, members []models.RideRequest)
}

// Scheduler is the pooling control loop. Each tick re-reads the open pool
// requests from the store, oldest first, and drives finder -> evaluator ->
// finalizer per request. It keeps no state between ticks; everything it
// needs is re-derived from the store, so restarts lose at most the tick in
// flight.
type Scheduler struct {
	Store     storage.Store
	Finder    CandidateFinder
	Evaluator Evaluator
	Finalizer PoolFinalizer
	Notifier  Notifier

	Policy        RadiusPolicy
	Interval      time.Duration
	MaxConcurrent int

	Logger *slog.Logger
	Now    func() time.Time
}

// Run ticks until ctx is cancelled. A failed tick (store unreachable) is
// logged and retried on the next interval rather than in a tight loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunTick(ctx)
		}
	}
}

// RunTick processes every outstanding pool request once. Requests are
// independent: a fault or panic in one must not starve the rest, and
// evaluation runs with bounded parallelism so a slow scorer for one request
// does not hold up the tick.
func (s *Scheduler) RunTick(ctx context.Context) {
	start := time.Now()
	observability.TicksTotal.Inc()
	defer func() {
		observability.TickDuration.Observe(time.Since(start).Seconds())
	}()

	requests, err := s.Store.ListOpenPoolRequests(ctx)
	if err != nil {
		s.Logger.Error("tick aborted: listing open pool requests failed", "error", err)
		return
	}
	if len(requests) == 0 {
		return
	}
	s.Logger.Debug("tick started", "open_requests", len(requests))

	now := s.now()
	sem := make(chan struct{}, s.maxConcurrent())
	var wg sync.WaitGroup
	for _, req := range requests {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(req models.RideRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processRequest(ctx, req, now)
		}(req)
	}
	wg.Wait()
}

func (s *Scheduler) processRequest(ctx context.Context, req models.RideRequest, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.RequestFaults.Inc()
			s.Logger.Error("panic processing pool request", "request_id", req.ID, "panic", rec)
		}
	}()
	observability.RequestsScanned.Inc()

	elapsed := now.Sub(req.RequestedAt)
	if s.Policy.TimedOut(elapsed) {
		s.flagTimeout(ctx, req, now)
		return
	}

	radius := s.Policy.RadiusFor(elapsed)
	candidates, err := s.Finder.Find(ctx, req, radius)
	if err != nil {
		observability.RequestFaults.Inc()
		s.Logger.Error("candidate search failed", "request_id", req.ID, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	grouping, err := s.Evaluator.Evaluate(ctx, req, candidates)
	if err != nil {
		observability.EvaluatorErrors.Inc()
		s.Logger.Error("evaluator fault", "request_id", req.ID, "error", err)
		return
	}
	if grouping == nil || !grouping.Valid || !grouping.DetourOK {
		// Normal no-match branch, not an error.
		s.Logger.Debug("no valid grouping", "request_id", req.ID,
			"radius_m", radius, "candidates", len(candidates))
		return
	}

	tripID, finalized, err := s.Finalizer.Finalize(ctx, grouping)
	if err != nil {
		observability.RequestFaults.Inc()
		s.Logger.Error("finalize fault", "request_id", req.ID, "error", err)
		return
	}
	if !finalized {
		// Lost to a concurrent claim; the surviving members stay eligible
		// next tick.
		return
	}
	members := make([]models.RideRequest, len(grouping.Members))
	for i, m := range grouping.Members {
		members[i] = m.Request
	}
	s.Notifier.PoolFormed(ctx, tripID, members)
}

// flagTimeout stops the search for a request that has waited past the
// window. The flag persists, so the request drops out of future scans until
// the rider (or outer policy) decides its fate.
func (s *Scheduler) flagTimeout(ctx context.Context, req models.RideRequest, now time.Time) {
	if err := s.Store.FlagSearchTimeout(ctx, req.ID, now); err != nil {
		observability.RequestFaults.Inc()
		s.Logger.Error("flagging search timeout failed", "request_id", req.ID, "error", err)
		return
	}
	observability.TimeoutsFlagged.Inc()
	s.Logger.Info("pool search timed out, decision required",
		"request_id", req.ID, "rider_user_id", req.RiderUserID)
	s.Notifier.PoolTimeoutDecision(ctx, req)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) maxConcurrent() int {
	if s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 1
}
