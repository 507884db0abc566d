package pooling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-pooling/internal/models"
)

func TestRemoteEvaluatorMapsResponse(t *testing.T) {
	seed, cand := sameDirectionPair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.VehicleType != "AUTO" || req.MaxRiders != 3 {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(remoteResponse{
			Valid:    true,
			Score:    0.9,
			DetourOK: true,
			Members: []remoteMember{
				{ID: seed.ID, PickupSequence: 1, DropSequence: 2},
				{ID: cand.ID, PickupSequence: 2, DropSequence: 1},
			},
		})
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, nil, nil)
	g, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand})
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || !g.Valid || !g.DetourOK || g.Score != 0.9 {
		t.Fatalf("unexpected grouping %+v", g)
	}
	if len(g.Members) != 2 || g.Members[0].Request.ID != seed.ID || g.Members[1].DropSequence != 1 {
		t.Fatalf("member mapping wrong: %+v", g.Members)
	}
}

func TestRemoteEvaluatorInvalidIsNoMatch(t *testing.T) {
	seed, cand := sameDirectionPair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{Valid: false})
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, nil, nil)
	g, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand})
	if err != nil || g != nil {
		t.Fatalf("expected no-match, got g=%v err=%v", g, err)
	}
}

func TestRemoteEvaluatorFallsBack(t *testing.T) {
	seed, cand := sameDirectionPair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, &DetourEvaluator{DetourCeiling: 0.10}, nil)
	g, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand})
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || len(g.Members) != 2 {
		t.Fatal("expected the local fallback to form the pair")
	}
}

func TestRemoteEvaluatorUnknownMemberIsFault(t *testing.T) {
	seed, cand := sameDirectionPair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Valid:    true,
			DetourOK: true,
			Members: []remoteMember{
				{ID: seed.ID, PickupSequence: 1, DropSequence: 1},
				{ID: "stranger", PickupSequence: 2, DropSequence: 2},
			},
		})
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, nil, nil)
	if _, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand}); err == nil {
		t.Fatal("expected an error for a member outside the candidate set")
	}
}

func TestRemoteEvaluatorGroupWithoutSeedIsFault(t *testing.T) {
	seed, cand := sameDirectionPair()
	extra := cand
	extra.ID = "cand2"
	extra.RiderUserID = "r2"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Valid:    true,
			DetourOK: true,
			Members: []remoteMember{
				{ID: cand.ID, PickupSequence: 1, DropSequence: 1},
				{ID: extra.ID, PickupSequence: 2, DropSequence: 2},
			},
		})
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, nil, nil)
	if _, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand, extra}); err == nil {
		t.Fatal("expected an error for a grouping that omits the seed")
	}
}

func TestRemoteEvaluatorDuplicateMemberIsFault(t *testing.T) {
	seed, cand := sameDirectionPair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Valid:    true,
			DetourOK: true,
			Members: []remoteMember{
				{ID: seed.ID, PickupSequence: 1, DropSequence: 1},
				{ID: seed.ID, PickupSequence: 2, DropSequence: 2},
			},
		})
	}))
	defer srv.Close()

	e := NewRemoteEvaluator(srv.URL, nil, nil)
	if _, err := e.Evaluate(context.Background(), seed, []models.RideRequest{cand}); err == nil {
		t.Fatal("expected an error for duplicate member ids")
	}
}
