package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type unitRow struct {
	ResourceID    string    `db:"resource_id"`
	Category      string    `db:"category"`
	ResourceType  string    `db:"resource_type"`
	Capacity      int       `db:"capacity"`
	Available     int       `db:"available"`
	UnitPrice     int64     `db:"unit_price"`
	DiscountPrice int64     `db:"discount_price"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type bookingRow struct {
	ID           string       `db:"id"`
	ResourceType string       `db:"resource_type"`
	ResourceID   string       `db:"resource_id"`
	RequesterID  string       `db:"requester_id"`
	Quantities   string       `db:"quantities"`
	AddOns       string       `db:"add_ons"`
	Contact      string       `db:"contact"`
	CheckIn      sql.NullTime `db:"check_in"`
	CheckOut     sql.NullTime `db:"check_out"`
	Price        string       `db:"price"`
	Total        int64        `db:"total"`
	Status       string       `db:"status"`
	CancelReason string       `db:"cancel_reason"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

const bookingColumns = `id, resource_type, resource_id, requester_id, quantities, add_ons, contact,
	check_in, check_out, price, total, status, cancel_reason, created_at, updated_at`

// SQLAdapter implements the inventory store, add-on catalog, booking ledger
// and idempotency store on MySQL or PostgreSQL.
type SQLAdapter struct {
	db *sqlx.DB
}

func NewSQLAdapter(db *sqlx.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

func (s *SQLAdapter) isPostgres() bool {
	return s.db.DriverName() == "postgres"
}

func (s *SQLAdapter) GetAvailable(ctx context.Context, resourceID, category string) (int, error) {
	unit, err := s.GetUnit(ctx, resourceID, category)
	if err != nil {
		return 0, err
	}
	return unit.Available, nil
}

func (s *SQLAdapter) GetUnit(ctx context.Context, resourceID, category string) (*domain.InventoryUnit, error) {
	var row unitRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT resource_id, category, resource_type, capacity, available, unit_price, discount_price, updated_at
		FROM inventory_units WHERE resource_id = ? AND category = ?`),
		resourceID, category,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory unit: %w", err)
	}

	return &domain.InventoryUnit{
		ResourceType:  domain.ResourceType(row.ResourceType),
		ResourceID:    row.ResourceID,
		Category:      row.Category,
		Capacity:      row.Capacity,
		Available:     row.Available,
		UnitPrice:     row.UnitPrice,
		DiscountPrice: row.DiscountPrice,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// TryDecrement takes quantity from the unit and records it under holdID in
// one transaction. A hold id that was already used or voided is refused.
func (s *SQLAdapter) TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin decrement: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE inventory_units
		SET available = available - ?, updated_at = ?
		WHERE resource_id = ? AND category = ? AND available >= ?`),
		quantity, now, resourceID, category, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind(
			`SELECT 1 FROM inventory_units WHERE resource_id = ? AND category = ?`), resourceID, category)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
		}
		if err != nil {
			return false, fmt.Errorf("query inventory unit: %w", err)
		}
		return false, nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO inventory_holds (hold_id, resource_id, category, quantity, released, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		holdID, resourceID, category, quantity, false, now,
	)
	if isDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record hold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit decrement: %w", err)
	}
	return true, nil
}

// ReleaseHold gives back what holdID took, at most once. An unknown hold is
// voided so a decrement still in flight under that id cannot apply later.
func (s *SQLAdapter) ReleaseHold(ctx context.Context, holdID, resourceID, category string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin release: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	void := `INSERT INTO inventory_holds (hold_id, resource_id, category, quantity, released, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`
	if s.isPostgres() {
		void += ` ON CONFLICT (hold_id, resource_id, category) DO NOTHING`
	} else {
		void += ` ON DUPLICATE KEY UPDATE hold_id = hold_id`
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(void), holdID, resourceID, category, true, now)
	if err != nil {
		return false, fmt.Errorf("void hold: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return false, tx.Commit()
	}

	var held struct {
		Quantity int  `db:"quantity"`
		Released bool `db:"released"`
	}
	err = tx.GetContext(ctx, &held, tx.Rebind(`
		SELECT quantity, released FROM inventory_holds
		WHERE hold_id = ? AND resource_id = ? AND category = ? FOR UPDATE`),
		holdID, resourceID, category,
	)
	if err != nil {
		return false, fmt.Errorf("query hold: %w", err)
	}
	if held.Released {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE inventory_units SET available = available + ?, updated_at = ?
		WHERE resource_id = ? AND category = ?`),
		held.Quantity, now, resourceID, category,
	)
	if err != nil {
		return false, fmt.Errorf("release inventory: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE inventory_holds SET released = ? WHERE hold_id = ? AND resource_id = ? AND category = ?`),
		true, holdID, resourceID, category,
	)
	if err != nil {
		return false, fmt.Errorf("mark hold released: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return true, nil
}

func (s *SQLAdapter) Increment(ctx context.Context, resourceID, category string, quantity int) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE inventory_units
		SET available = available + ?, updated_at = ?
		WHERE resource_id = ? AND category = ? AND available + ? <= capacity`),
		quantity, time.Now().UTC(), resourceID, category, quantity,
	)
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	if _, err := s.GetUnit(ctx, resourceID, category); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s/%s", domain.ErrCapacityExceeded, resourceID, category)
}

func (s *SQLAdapter) UpsertUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO inventory_units
		(resource_id, category, resource_type, capacity, available, unit_price, discount_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.isPostgres() {
		query += ` ON CONFLICT (resource_id, category) DO UPDATE SET
			resource_type = EXCLUDED.resource_type, capacity = EXCLUDED.capacity,
			available = EXCLUDED.available, unit_price = EXCLUDED.unit_price,
			discount_price = EXCLUDED.discount_price, updated_at = EXCLUDED.updated_at`
	} else {
		query += ` ON DUPLICATE KEY UPDATE
			resource_type = VALUES(resource_type), capacity = VALUES(capacity),
			available = VALUES(available), unit_price = VALUES(unit_price),
			discount_price = VALUES(discount_price), updated_at = VALUES(updated_at)`
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		unit.ResourceID, unit.Category, string(unit.ResourceType), unit.Capacity, unit.Available,
		unit.UnitPrice, unit.DiscountPrice, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert inventory unit: %w", err)
	}
	return nil
}

// SeedUnit inserts a missing unit. An existing unit keeps its capacity and
// available counts; only its type and prices are refreshed.
func (s *SQLAdapter) SeedUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO inventory_units
		(resource_id, category, resource_type, capacity, available, unit_price, discount_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.isPostgres() {
		query += ` ON CONFLICT (resource_id, category) DO UPDATE SET
			resource_type = EXCLUDED.resource_type, unit_price = EXCLUDED.unit_price,
			discount_price = EXCLUDED.discount_price, updated_at = EXCLUDED.updated_at`
	} else {
		query += ` ON DUPLICATE KEY UPDATE
			resource_type = VALUES(resource_type), unit_price = VALUES(unit_price),
			discount_price = VALUES(discount_price), updated_at = VALUES(updated_at)`
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		unit.ResourceID, unit.Category, string(unit.ResourceType), unit.Capacity, unit.Available,
		unit.UnitPrice, unit.DiscountPrice, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("seed inventory unit: %w", err)
	}
	return nil
}

func (s *SQLAdapter) GetAddOn(ctx context.Context, resourceID, code string) (*domain.AddOn, error) {
	var a domain.AddOn
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT resource_id, code, name, price FROM add_ons WHERE resource_id = ? AND code = ?`),
		resourceID, code,
	).Scan(&a.ResourceID, &a.Code, &a.Name, &a.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: add-on %s/%s", domain.ErrResourceNotFound, resourceID, code)
	}
	if err != nil {
		return nil, fmt.Errorf("query add-on: %w", err)
	}
	return &a, nil
}

func (s *SQLAdapter) UpsertAddOn(ctx context.Context, addOn domain.AddOn) error {
	if addOn.ResourceID == "" || addOn.Code == "" || addOn.Price < 0 {
		return fmt.Errorf("%w: invalid add-on", domain.ErrValidation)
	}

	query := `INSERT INTO add_ons (resource_id, code, name, price) VALUES (?, ?, ?, ?)`
	if s.isPostgres() {
		query += ` ON CONFLICT (resource_id, code) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
	} else {
		query += ` ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price)`
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), addOn.ResourceID, addOn.Code, addOn.Name, addOn.Price); err != nil {
		return fmt.Errorf("upsert add-on: %w", err)
	}
	return nil
}

func (s *SQLAdapter) Append(ctx context.Context, record domain.BookingRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	row, err := toBookingRow(record)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (:id, :resource_type, :resource_id, :requester_id, :quantities, :add_ons, :contact,
			:check_in, :check_out, :price, :total, :status, :cancel_reason, :created_at, :updated_at)`,
		row,
	)
	if isDuplicateKey(err) {
		return "", fmt.Errorf("%w: duplicate id %s", domain.ErrLedgerWrite, record.ID)
	}
	if err != nil {
		return "", fmt.Errorf("insert booking: %w", err)
	}
	return record.ID, nil
}

func (s *SQLAdapter) Get(ctx context.Context, id string) (*domain.BookingRecord, error) {
	var row bookingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query booking: %w", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus is a compare-and-set: the row only changes while it is in a
// state that may move to status.
func (s *SQLAdapter) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, reason string) error {
	var sources []string
	for _, from := range domain.SourcesFor(status) {
		sources = append(sources, string(from))
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: no transition into %s", domain.ErrInvalidState, status)
	}

	set := `status = ?, updated_at = ?`
	args := []interface{}{string(status), time.Now().UTC()}
	if reason != "" {
		set += `, cancel_reason = ?`
		args = append(args, reason)
	}
	args = append(args, id, sources)

	query, args, err := sqlx.In(`UPDATE bookings SET `+set+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, current.Status, status)
}

func (s *SQLAdapter) ListByRequester(ctx context.Context, requesterID string) ([]domain.BookingRecord, error) {
	return s.list(ctx, `requester_id = ?`, requesterID)
}

func (s *SQLAdapter) ListByResource(ctx context.Context, resourceID string) ([]domain.BookingRecord, error) {
	return s.list(ctx, `resource_id = ?`, resourceID)
}

func (s *SQLAdapter) list(ctx context.Context, where string, arg string) ([]domain.BookingRecord, error) {
	rows := []bookingRow{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+bookingColumns+` FROM bookings WHERE `+where+` ORDER BY created_at DESC`), arg)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	out := make([]domain.BookingRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLAdapter) Acquire(ctx context.Context, key string) (bool, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO idempotency_keys (id, created_at) VALUES (?, ?)`),
		key, time.Now().UTC())
	if isDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert idempotency key: %w", err)
	}
	return true, nil
}

func (s *SQLAdapter) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM idempotency_keys WHERE id = ?`), key); err != nil {
		return fmt.Errorf("delete idempotency key: %w", err)
	}
	return nil
}

// PurgeIdempotencyKeys removes keys and holds older than ttl and reports how
// many rows were dropped.
func (s *SQLAdapter) PurgeIdempotencyKeys(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	var purged int64
	for _, table := range []string{"idempotency_keys", "inventory_holds"} {
		result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM `+table+` WHERE created_at < ?`), cutoff)
		if err != nil {
			return purged, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		purged += n
	}
	return purged, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func toBookingRow(r domain.BookingRecord) (bookingRow, error) {
	quantities, err := json.Marshal(r.Quantities)
	if err != nil {
		return bookingRow{}, err
	}
	addOns, err := json.Marshal(r.AddOns)
	if err != nil {
		return bookingRow{}, err
	}
	contact, err := json.Marshal(r.Contact)
	if err != nil {
		return bookingRow{}, err
	}
	price, err := json.Marshal(r.Price)
	if err != nil {
		return bookingRow{}, err
	}

	row := bookingRow{
		ID:           r.ID,
		ResourceType: string(r.ResourceType),
		ResourceID:   r.ResourceID,
		RequesterID:  r.RequesterID,
		Quantities:   string(quantities),
		AddOns:       string(addOns),
		Contact:      string(contact),
		Price:        string(price),
		Total:        r.Price.Total,
		Status:       string(r.Status),
		CancelReason: r.CancelReason,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.Stay != nil {
		row.CheckIn = sql.NullTime{Time: r.Stay.CheckIn.UTC(), Valid: true}
		row.CheckOut = sql.NullTime{Time: r.Stay.CheckOut.UTC(), Valid: true}
	}
	return row, nil
}

func (row bookingRow) toRecord() (domain.BookingRecord, error) {
	rec := domain.BookingRecord{
		ID:           row.ID,
		ResourceType: domain.ResourceType(row.ResourceType),
		ResourceID:   row.ResourceID,
		RequesterID:  row.RequesterID,
		Status:       domain.BookingStatus(row.Status),
		CancelReason: row.CancelReason,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Quantities), &rec.Quantities); err != nil {
		return rec, fmt.Errorf("decode quantities of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.AddOns), &rec.AddOns); err != nil {
		return rec, fmt.Errorf("decode add-ons of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Contact), &rec.Contact); err != nil {
		return rec, fmt.Errorf("decode contact of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Price), &rec.Price); err != nil {
		return rec, fmt.Errorf("decode price of %s: %w", row.ID, err)
	}
	if row.CheckIn.Valid && row.CheckOut.Valid {
		rec.Stay = &domain.DateRange{CheckIn: row.CheckIn.Time, CheckOut: row.CheckOut.Time}
	}
	return rec, nil
}
