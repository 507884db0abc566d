package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-pooling/internal/models"
)

const requestColumns = `id, rider_user_id, pickup_lat, pickup_lon, drop_lat, drop_lon,
	coalesce(pickup_address, ''), coalesce(drop_address, ''),
	ride_type, vehicle_type, status, coalesce(pool_group_id::text, ''),
	requested_at, expires_at, timeout_flagged_at`

// PostgresStore implements Store on Postgres. Radius filtering relies on the
// cube/earthdistance extensions (meters over a spherical earth), matching
// the Haversine math used elsewhere in the engine.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) ListOpenPoolRequests(ctx context.Context) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE status = $1 AND ride_type = $2 AND timeout_flagged_at IS NULL
		ORDER BY requested_at ASC`,
		string(models.RequestRequested), string(models.RidePool))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) NearbyPoolCandidates(ctx context.Context, seed models.RideRequest, radiusMeters float64, limit int) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE status = $1 AND ride_type = $2 AND vehicle_type = $3 AND id <> $4
		  AND timeout_flagged_at IS NULL
		  AND earth_distance(ll_to_earth(pickup_lat, pickup_lon), ll_to_earth($5, $6)) <= $7
		ORDER BY requested_at DESC
		LIMIT $8`,
		string(models.RequestRequested), string(models.RidePool), string(seed.VehicleType),
		seed.ID, seed.Pickup.Lat, seed.Pickup.Lon, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) GetRequestsByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE id = ANY($1) ORDER BY requested_at DESC`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) FlagSearchTimeout(ctx context.Context, requestID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE ride_requests SET timeout_flagged_at = $2
		WHERE id = $1 AND status = $3 AND timeout_flagged_at IS NULL`,
		requestID, at, string(models.RequestRequested))
	return err
}

func (p *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_requests
		(id, rider_user_id, pickup_lat, pickup_lon, drop_lat, drop_lon,
		 pickup_address, drop_address, ride_type, vehicle_type, status, requested_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.RiderUserID, r.Pickup.Lat, r.Pickup.Lon, r.Drop.Lat, r.Drop.Lon,
		nullString(r.PickupAddress), nullString(r.DropAddress),
		string(r.RideType), string(r.VehicleType), string(r.Status),
		r.RequestedAt, nullTime(r.ExpiresAt))
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) CancelRequest(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE ride_requests SET status = $2
		WHERE id = $1 AND status = $3`,
		id, string(models.RequestCancelled), string(models.RequestRequested))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockRequestedByIDs(ctx context.Context, ids []string) ([]models.RideRequest, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+requestColumns+` FROM ride_requests
		WHERE id = ANY($1) AND status = $2
		FOR UPDATE`, pq.Array(ids), string(models.RequestRequested))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (t *pgTx) CreatePoolGroup(ctx context.Context, g *models.PoolGroup) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO pool_groups
		(id, status, vehicle_type, current_riders_count, max_riders, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		g.ID, string(g.Status), string(g.VehicleType), g.CurrentRidersCount, g.MaxRiders,
		g.CreatedAt, g.UpdatedAt)
	return err
}

func (t *pgTx) MarkRequestPooled(ctx context.Context, requestID, groupID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ride_requests SET status = $2, pool_group_id = $3
		WHERE id = $1 AND status = $4`,
		requestID, string(models.RequestPooled), groupID, string(models.RequestRequested))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) CreateTrip(ctx context.Context, tr *models.Trip) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO trips
		(id, driver_user_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)`,
		tr.ID, nullString(tr.DriverUserID), string(tr.Status), tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *pgTx) CreateTripRider(ctx context.Context, tr *models.TripRider) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO trip_riders
		(trip_id, rider_user_id, pickup_lat, pickup_lon, drop_lat, drop_lon,
		 pickup_sequence, drop_sequence, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tr.TripID, tr.RiderUserID, tr.Pickup.Lat, tr.Pickup.Lon, tr.Drop.Lat, tr.Drop.Lon,
		tr.PickupSequence, tr.DropSequence, string(tr.Status))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.RideRequest, error) {
	var r models.RideRequest
	var rideType, vehicleType, status string
	var expiresAt, flaggedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RiderUserID,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Drop.Lat, &r.Drop.Lon,
		&r.PickupAddress, &r.DropAddress,
		&rideType, &vehicleType, &status, &r.PoolGroupID,
		&r.RequestedAt, &expiresAt, &flaggedAt)
	if err != nil {
		return nil, err
	}
	r.RideType = models.RideType(rideType)
	r.VehicleType = models.VehicleType(vehicleType)
	r.Status = models.RequestStatus(status)
	if expiresAt.Valid {
		r.ExpiresAt = expiresAt.Time
	}
	if flaggedAt.Valid {
		r.TimeoutFlaggedAt = flaggedAt.Time
	}
	return &r, nil
}

func scanRequests(rows *sql.Rows) ([]models.RideRequest, error) {
	var out []models.RideRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
