package notify

import (
	"context"

	"github.com/example/ride-pooling/internal/models"
)

// Deliver maps a lifecycle event back onto a Notifier. The intake API uses
// it to turn pool.timeout/pool.formed events from the scheduler process into
// websocket pushes on its Hub. Events the rider channel does not carry are
// ignored, as are malformed ones: the store remains the source of truth a
// rider can always poll.
func Deliver(ctx context.Context, n Notifier, evt Event) {
	switch evt.Type {
	case EventPoolTimeout:
		if evt.RequestID == "" {
			return
		}
		n.PoolTimeoutDecision(ctx, models.RideRequest{
			ID:          evt.RequestID,
			RiderUserID: evt.RiderUserID,
		})
	case EventPoolFormed:
		if evt.TripID == "" || len(evt.Members) == 0 {
			return
		}
		members := make([]models.RideRequest, len(evt.Members))
		for i, m := range evt.Members {
			members[i] = models.RideRequest{ID: m.RequestID, RiderUserID: m.RiderUserID}
		}
		n.PoolFormed(ctx, evt.TripID, members)
	}
}
