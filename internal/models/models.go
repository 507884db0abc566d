package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type RideType string

const (
	RideSolo RideType = "SOLO"
	RidePool RideType = "POOL"
)

type VehicleType string

const (
	VehicleBike VehicleType = "BIKE"
	VehicleAuto VehicleType = "AUTO"
	VehicleCab  VehicleType = "CAB"
)

type RequestStatus string

const (
	RequestRequested RequestStatus = "REQUESTED"
	RequestMatching  RequestStatus = "MATCHING"
	RequestPooled    RequestStatus = "POOLED"
	RequestExpired   RequestStatus = "EXPIRED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether a request status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestExpired || s == RequestCancelled
}

// RideRequest is one rider's ask for transport. Pool requests are the
// scheduler's unit of work; solo requests go straight to dispatch.
type RideRequest struct {
	ID               string
	RiderUserID      string
	Pickup           Coord
	Drop             Coord
	PickupAddress    string
	DropAddress      string
	RideType         RideType
	VehicleType      VehicleType
	Status           RequestStatus
	PoolGroupID      string    // empty until the request is claimed by a group
	RequestedAt      time.Time
	ExpiresAt        time.Time // zero when unset
	TimeoutFlaggedAt time.Time // zero until the search window lapses
}

type PoolStatus string

const (
	PoolForming   PoolStatus = "FORMING"
	PoolActive    PoolStatus = "ACTIVE"
	PoolCompleted PoolStatus = "COMPLETED"
	PoolCancelled PoolStatus = "CANCELLED"
	PoolExpired   PoolStatus = "EXPIRED"
)

// PoolGroup is a committed set of riders sharing one vehicle. Membership is
// fixed at creation; ACTIVE and the terminal states are owned by trip
// dispatch.
type PoolGroup struct {
	ID                 string
	Status             PoolStatus
	VehicleType        VehicleType
	CurrentRidersCount int
	MaxRiders          int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type TripStatus string

const (
	TripRequested  TripStatus = "REQUESTED"
	TripAssigned   TripStatus = "ASSIGNED"
	TripArriving   TripStatus = "ARRIVING"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// Trip is the dispatchable unit offered to drivers once a group is formed.
type Trip struct {
	ID           string
	DriverUserID string // empty until dispatch assigns a driver
	Status       TripStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TripRiderStatus string

const (
	TripRiderJoined    TripRiderStatus = "JOINED"
	TripRiderCancelled TripRiderStatus = "CANCELLED"
	TripRiderNoShow    TripRiderStatus = "NO_SHOW"
)

// TripRider is one rider's leg within a trip, keyed by (TripID, RiderUserID).
// Sequence numbers come from the group evaluator; FareShare is filled in by
// the fare subsystem after completion.
type TripRider struct {
	TripID         string
	RiderUserID    string
	Pickup         Coord
	Drop           Coord
	PickupSequence int
	DropSequence   int
	FareShare      float64 // 0 until fares are settled
	Status         TripRiderStatus
}

// PoolCapacity returns the maximum riders a vehicle class may pool, or 0 for
// classes that never pool.
func PoolCapacity(v VehicleType) int {
	switch v {
	case VehicleAuto:
		return 3
	case VehicleCab:
		return 4
	default:
		return 0
	}
}
