package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-pooling/internal/models"
)

// RiderMessage is the JSON frame pushed to a connected rider.
type RiderMessage struct {
	Type       string   `json:"type"` // POOL_TIMEOUT_CHOICE_REQUIRED | POOL_FORMED
	RequestID  string   `json:"request_id,omitempty"`
	TripID     string   `json:"trip_id,omitempty"`
	RequestIDs []string `json:"request_ids,omitempty"`
}

const (
	MsgPoolTimeoutChoiceRequired = "POOL_TIMEOUT_CHOICE_REQUIRED"
	MsgPoolFormed                = "POOL_FORMED"
)

type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(msg RiderMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Hub holds rider websocket sessions keyed by rider user id. A rider with
// no live session simply misses the push; the request status in the store
// remains the source of truth they can poll.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*wsSession), logger: logger}
}

func (h *Hub) Add(riderUserID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[riderUserID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[riderUserID] = &wsSession{conn: conn}
}

func (h *Hub) Remove(riderUserID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, riderUserID)
}

func (h *Hub) PoolTimeoutDecision(ctx context.Context, req models.RideRequest) {
	h.push(req.RiderUserID, RiderMessage{
		Type:      MsgPoolTimeoutChoiceRequired,
		RequestID: req.ID,
	})
}

func (h *Hub) PoolFormed(ctx context.Context, tripID string, members []models.RideRequest) {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	for _, m := range members {
		h.push(m.RiderUserID, RiderMessage{
			Type:       MsgPoolFormed,
			RequestID:  m.ID,
			TripID:     tripID,
			RequestIDs: ids,
		})
	}
}

func (h *Hub) push(riderUserID string, msg RiderMessage) {
	h.mu.RLock()
	s, ok := h.sessions[riderUserID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(msg); err != nil {
		h.logger.Warn("ws push failed", "rider_user_id", riderUserID, "error", err)
		h.Remove(riderUserID)
	}
}
