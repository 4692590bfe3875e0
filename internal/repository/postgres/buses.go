package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
)

type BusRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BusRepo) With(db DB) *BusRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BusRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts the bus and its full seat map in one transaction. Seat
// numbers come from the rows×cols layout and are written exactly once here.
func (r *BusRepo) Create(ctx context.Context, b *domain.Bus) (int64, error) {
	const op = "postgres.BusRepo.Create"

	if r.db != nil {
		id, err := r.createCore(ctx, r.db, b)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return id, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	id, err := r.createCore(ctx, tx, b)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// GetByID retrieves a bus with its last known location.
//
// Returns:
//   - error: repository.ErrNotFound if the bus does not exist.
func (r *BusRepo) GetByID(ctx context.Context, id int64) (*domain.Bus, error) {
	const op = "postgres.BusRepo.GetByID"

	db := r.handle()

	b, err := scanBus(db.QueryRow(ctx, busSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

func (r *BusRepo) ListActive(ctx context.Context, limit, offset int) ([]domain.Bus, error) {
	const op = "postgres.BusRepo.ListActive"

	db := r.handle()

	rows, err := db.Query(ctx,
		busSelect+` WHERE active = TRUE ORDER BY departs_at LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Bus
	for rows.Next() {
		b, err := scanBus(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// SetActive toggles the operator-facing active flag.
func (r *BusRepo) SetActive(ctx context.Context, id int64, active bool) error {
	const op = "postgres.BusRepo.SetActive"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE buses SET active = $2 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// UpdateLastLocation stores the latest position sample on the bus row. Only
// the most recent sample is durable; the stream itself is broadcast only.
func (r *BusRepo) UpdateLastLocation(ctx context.Context, id int64, lat, lng float64, at time.Time) error {
	const op = "postgres.BusRepo.UpdateLastLocation"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE buses
            SET last_lat = $2, last_lng = $3, last_seen_at = $4
          WHERE id = $1`,
		id, lat, lng, at,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ActiveLocations returns last known locations for every active bus that has
// reported at least once.
func (r *BusRepo) ActiveLocations(ctx context.Context) ([]domain.LocationSample, error) {
	const op = "postgres.BusRepo.ActiveLocations"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, last_lat, last_lng, last_seen_at
           FROM buses
          WHERE active = TRUE AND last_seen_at IS NOT NULL
          ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.LocationSample
	for rows.Next() {
		var s domain.LocationSample
		if err := rows.Scan(&s.BusID, &s.Lat, &s.Lng, &s.At); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *BusRepo) createCore(ctx context.Context, db DB, b *domain.Bus) (int64, error) {
	const op = "postgres.BusRepo.createCore"

	seatNumbers := domain.SeatNumbers(b.SeatRows, b.SeatCols)
	if len(seatNumbers) != b.TotalSeats {
		return 0, fmt.Errorf("%s: seat map size %d does not match total seats %d",
			op, len(seatNumbers), b.TotalSeats)
	}

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO buses(name, origin, destination, stops, distance_km, duration_min,
                           departs_at, arrives_at, recurrence,
                           seat_rows, seat_cols, total_seats, price_cents, active)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
         RETURNING id`,
		b.Name, b.Route.Origin, b.Route.Destination, b.Route.Stops,
		b.Route.DistanceKM, b.Route.DurationMin,
		b.Schedule.DepartsAt, b.Schedule.ArrivesAt, b.Schedule.Recurrence,
		b.SeatRows, b.SeatCols, b.TotalSeats, b.PriceCents, b.Active,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	batch := &pgx.Batch{}
	for _, n := range seatNumbers {
		batch.Queue(
			`INSERT INTO bus_seats(bus_id, number, booked)
             VALUES ($1, $2, FALSE)`,
			id, n,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

const busSelect = `SELECT id, name, origin, destination, stops, distance_km, duration_min,
       departs_at, arrives_at, recurrence,
       seat_rows, seat_cols, total_seats, price_cents, active,
       last_lat, last_lng, last_seen_at
  FROM buses`

func scanBus(row pgx.Row) (*domain.Bus, error) {
	var b domain.Bus
	var lat, lng *float64
	var seen *time.Time

	if err := row.Scan(
		&b.ID, &b.Name, &b.Route.Origin, &b.Route.Destination, &b.Route.Stops,
		&b.Route.DistanceKM, &b.Route.DurationMin,
		&b.Schedule.DepartsAt, &b.Schedule.ArrivesAt, &b.Schedule.Recurrence,
		&b.SeatRows, &b.SeatCols, &b.TotalSeats, &b.PriceCents, &b.Active,
		&lat, &lng, &seen,
	); err != nil {
		return nil, err
	}

	if lat != nil && lng != nil && seen != nil {
		b.LastLocation = &domain.Location{Lat: *lat, Lng: *lng, At: *seen}
	}

	return &b, nil
}
