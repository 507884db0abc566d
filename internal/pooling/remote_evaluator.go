package pooling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// RemoteEvaluator delegates grouping decisions to an external scoring
// service over HTTP. When the service is unreachable or answers with
// garbage, it falls back to the local evaluator rather than stalling the
// request until timeout.
type RemoteEvaluator struct {
	URL      string
	Client   *http.Client
	Fallback Evaluator // optional
	Logger   *slog.Logger
}

func NewRemoteEvaluator(url string, fallback Evaluator, logger *slog.Logger) *RemoteEvaluator {
	return &RemoteEvaluator{
		URL:      url,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Fallback: fallback,
		Logger:   logger,
	}
}

type remoteRider struct {
	ID          string       `json:"id"`
	RiderUserID string       `json:"rider_user_id"`
	Pickup      models.Coord `json:"pickup"`
	Drop        models.Coord `json:"drop"`
}

type remoteRequest struct {
	VehicleType string        `json:"vehicle_type"`
	MaxRiders   int           `json:"max_riders"`
	Seed        remoteRider   `json:"seed"`
	Candidates  []remoteRider `json:"candidates"`
}

type remoteMember struct {
	ID             string `json:"id"`
	PickupSequence int    `json:"pickup_sequence"`
	DropSequence   int    `json:"drop_sequence"`
}

type remoteResponse struct {
	Valid    bool           `json:"valid"`
	Score    float64        `json:"score"`
	DetourOK bool           `json:"detour_ok"`
	Members  []remoteMember `json:"members"`
}

func (e *RemoteEvaluator) Evaluate(ctx context.Context, seed models.RideRequest, candidates []models.RideRequest) (*Grouping, error) {
	g, err := e.evaluateRemote(ctx, seed, candidates)
	if err == nil {
		return g, nil
	}
	if e.Fallback == nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.Warn("remote evaluator failed, using local fallback",
			"request_id", seed.ID, "error", err)
	}
	return e.Fallback.Evaluate(ctx, seed, candidates)
}

func (e *RemoteEvaluator) evaluateRemote(ctx context.Context, seed models.RideRequest, candidates []models.RideRequest) (*Grouping, error) {
	payload := remoteRequest{
		VehicleType: string(seed.VehicleType),
		MaxRiders:   models.PoolCapacity(seed.VehicleType),
		Seed:        toRemoteRider(seed),
	}
	for _, c := range candidates {
		payload.Candidates = append(payload.Candidates, toRemoteRider(c))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluator service status %d", resp.StatusCode)
	}
	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, err
	}
	if !rr.Valid || len(rr.Members) < 2 {
		return nil, nil
	}

	byID := map[string]models.RideRequest{seed.ID: seed}
	for _, c := range candidates {
		byID[c.ID] = c
	}
	g := &Grouping{Valid: true, Score: rr.Score, DetourOK: rr.DetourOK}
	seen := make(map[string]bool, len(rr.Members))
	for _, m := range rr.Members {
		req, ok := byID[m.ID]
		if !ok {
			return nil, fmt.Errorf("evaluator returned unknown member %s", m.ID)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("evaluator returned duplicate member %s", m.ID)
		}
		seen[m.ID] = true
		g.Members = append(g.Members, MemberPlan{
			Request:        req,
			PickupSequence: m.PickupSequence,
			DropSequence:   m.DropSequence,
		})
	}
	if !seen[seed.ID] {
		return nil, fmt.Errorf("evaluator grouping omits the seed request %s", seed.ID)
	}
	if len(g.Members) > models.PoolCapacity(seed.VehicleType) {
		return nil, fmt.Errorf("evaluator returned %d members for %s", len(g.Members), seed.VehicleType)
	}
	return g, nil
}

func toRemoteRider(r models.RideRequest) remoteRider {
	return remoteRider{ID: r.ID, RiderUserID: r.RiderUserID, Pickup: r.Pickup, Drop: r.Drop}
}
