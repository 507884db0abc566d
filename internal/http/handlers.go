package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/notify"
	"github.com/example/ride-pooling/internal/storage"
)

// Server is the intake API: riders submit and cancel ride requests here and
// hold a websocket for pooling outcomes. Matching itself happens in the
// scheduler process; this surface only writes store state the scheduler
// reads on its next tick.
type Server struct {
	store  storage.Store
	index  *geo.RedisIndex        // optional pickup geo index
	events *notify.KafkaPublisher // optional lifecycle events
	hub    *notify.Hub
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(store storage.Store, index *geo.RedisIndex, events *notify.KafkaPublisher, hub *notify.Hub, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		index:  index,
		events: events,
		hub:    hub,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleSubmitRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.handleCancelRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{rider_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type submitRequest struct {
	RiderUserID   string       `json:"rider_user_id"`
	Pickup        models.Coord `json:"pickup"`
	Drop          models.Coord `json:"drop"`
	PickupAddress string       `json:"pickup_address"`
	DropAddress   string       `json:"drop_address"`
	RideType      string       `json:"ride_type"`
	VehicleType   string       `json:"vehicle_type"`
}

type requestResponse struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	RideType    string    `json:"ride_type"`
	VehicleType string    `json:"vehicle_type"`
	PoolGroupID string    `json:"pool_group_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rideType := models.RideType(in.RideType)
	vehicleType := models.VehicleType(in.VehicleType)
	if in.RiderUserID == "" {
		http.Error(w, "rider_user_id is required", http.StatusBadRequest)
		return
	}
	if rideType != models.RideSolo && rideType != models.RidePool {
		http.Error(w, "ride_type must be SOLO or POOL", http.StatusBadRequest)
		return
	}
	switch vehicleType {
	case models.VehicleBike, models.VehicleAuto, models.VehicleCab:
	default:
		http.Error(w, "vehicle_type must be BIKE, AUTO or CAB", http.StatusBadRequest)
		return
	}
	if rideType == models.RidePool && vehicleType == models.VehicleBike {
		http.Error(w, "bikes are not eligible for pooling", http.StatusUnprocessableEntity)
		return
	}

	req := &models.RideRequest{
		ID:            uuid.NewString(),
		RiderUserID:   in.RiderUserID,
		Pickup:        in.Pickup,
		Drop:          in.Drop,
		PickupAddress: in.PickupAddress,
		DropAddress:   in.DropAddress,
		RideType:      rideType,
		VehicleType:   vehicleType,
		Status:        models.RequestRequested,
		RequestedAt:   time.Now(),
	}
	if err := s.store.CreateRequest(r.Context(), req); err != nil {
		s.logger.Error("create request failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if req.RideType == models.RidePool {
		if s.index != nil {
			if err := s.index.Add(r.Context(), req.ID, req.Pickup); err != nil {
				s.logger.Warn("geo index add failed", "request_id", req.ID, "error", err)
			}
		}
		if s.events != nil {
			s.events.RequestCreated(r.Context(), *req)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toResponse(req))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cancelled, err := s.store.CancelRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown request", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("cancel request failed", "request_id", id, "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !cancelled {
		// Already pooled, expired or cancelled; the caller sees the current
		// state and can decide what to do with it.
		http.Error(w, "request is no longer cancellable", http.StatusConflict)
		return
	}
	if s.index != nil {
		if err := s.index.Remove(r.Context(), id); err != nil {
			s.logger.Warn("geo index remove failed", "request_id", id, "error", err)
		}
	}
	if s.events != nil {
		s.events.RequestCancelled(r.Context(), id)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": id, "status": string(models.RequestCancelled)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.store.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown request", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(req))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.hub.Add(riderID, conn)
}

func toResponse(req *models.RideRequest) requestResponse {
	return requestResponse{
		ID:          req.ID,
		Status:      string(req.Status),
		RideType:    string(req.RideType),
		VehicleType: string(req.VehicleType),
		PoolGroupID: req.PoolGroupID,
		RequestedAt: req.RequestedAt,
	}
}
