// Package notify carries pooling outcomes over the rider-facing boundary:
// websocket pushes to connected riders and lifecycle events on Kafka. All
// delivery is fire-and-forget; the pooling core only changes store state.
package notify

import (
	"context"
	"log/slog"

	"github.com/example/ride-pooling/internal/models"
)

// Notifier mirrors the scheduler's notifier contract so implementations
// here can be fanned out without importing the pooling package.
type Notifier interface {
	PoolTimeoutDecision(ctx context.Context, req models.RideRequest)
	PoolFormed(ctx context.Context, tripID string, members []models.RideRequest)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) PoolTimeoutDecision(context.Context, models.RideRequest)  {}
func (Nop) PoolFormed(context.Context, string, []models.RideRequest) {}

// LogNotifier writes notifications to the log, for deployments without a
// configured delivery channel.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) PoolTimeoutDecision(ctx context.Context, req models.RideRequest) {
	l.Logger.Info("notify: pool timeout decision required",
		"request_id", req.ID, "rider_user_id", req.RiderUserID)
}

func (l *LogNotifier) PoolFormed(ctx context.Context, tripID string, members []models.RideRequest) {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	l.Logger.Info("notify: pool formed", "trip_id", tripID, "request_ids", ids)
}

// Fanout delivers to every child notifier.
type Fanout []Notifier

func (f Fanout) PoolTimeoutDecision(ctx context.Context, req models.RideRequest) {
	for _, n := range f {
		n.PoolTimeoutDecision(ctx, req)
	}
}

func (f Fanout) PoolFormed(ctx context.Context, tripID string, members []models.RideRequest) {
	for _, n := range f {
		n.PoolFormed(ctx, tripID, members)
	}
}
