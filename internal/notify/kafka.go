package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pooling/internal/models"
)

// Event types on the pooling lifecycle topic.
const (
	EventRequestCreated   = "request.created"
	EventRequestCancelled = "request.cancelled"
	EventPoolFormed       = "pool.formed"
	EventPoolTimeout      = "pool.timeout"
)

// Event is the wire payload for pooling lifecycle events. The consumer uses
// request.created/cancelled to maintain the Redis pickup index; the intake
// API relays pool.timeout/pool.formed onto rider websockets; downstream
// systems (dispatch, analytics) watch pool.formed.
type Event struct {
	Type        string        `json:"type"`
	RequestID   string        `json:"request_id,omitempty"`
	RiderUserID string        `json:"rider_user_id,omitempty"`
	VehicleType string        `json:"vehicle_type,omitempty"`
	Pickup      *models.Coord `json:"pickup,omitempty"`
	TripID      string        `json:"trip_id,omitempty"`
	RequestIDs  []string      `json:"request_ids,omitempty"`
	Members     []EventMember `json:"members,omitempty"`
	At          time.Time     `json:"at"`
}

// EventMember identifies one rider in a pool.formed event, enough for the
// relay to address the websocket push.
type EventMember struct {
	RequestID   string `json:"request_id"`
	RiderUserID string `json:"rider_user_id"`
}

// KafkaPublisher writes lifecycle events to a Kafka topic. Publishing is
// best-effort from the caller's point of view: failures are logged, never
// propagated into the matching pipeline.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w, logger: logger}
}

func (k *KafkaPublisher) publish(key string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(evt)
	if err != nil {
		k.logger.Error("event marshal failed", "type", evt.Type, "error", err)
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		k.logger.Warn("event publish failed", "type", evt.Type, "key", key, "error", err)
	}
}

func (k *KafkaPublisher) RequestCreated(ctx context.Context, req models.RideRequest) {
	pickup := req.Pickup
	k.publish(req.ID, Event{
		Type:        EventRequestCreated,
		RequestID:   req.ID,
		RiderUserID: req.RiderUserID,
		VehicleType: string(req.VehicleType),
		Pickup:      &pickup,
		At:          time.Now(),
	})
}

func (k *KafkaPublisher) RequestCancelled(ctx context.Context, requestID string) {
	k.publish(requestID, Event{
		Type:      EventRequestCancelled,
		RequestID: requestID,
		At:        time.Now(),
	})
}

func (k *KafkaPublisher) PoolTimeoutDecision(ctx context.Context, req models.RideRequest) {
	k.publish(req.ID, Event{
		Type:        EventPoolTimeout,
		RequestID:   req.ID,
		RiderUserID: req.RiderUserID,
		At:          time.Now(),
	})
}

func (k *KafkaPublisher) PoolFormed(ctx context.Context, tripID string, members []models.RideRequest) {
	ids := make([]string, len(members))
	ms := make([]EventMember, len(members))
	for i, m := range members {
		ids[i] = m.ID
		ms[i] = EventMember{RequestID: m.ID, RiderUserID: m.RiderUserID}
	}
	k.publish(tripID, Event{
		Type:       EventPoolFormed,
		TripID:     tripID,
		RequestIDs: ids,
		Members:    ms,
		At:         time.Now(),
	})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
