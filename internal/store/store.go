package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSupplies retrieves all supplies
func (s *Store) GetSupplies(ctx context.Context) ([]models.Supply, error) {
	var supplies []models.Supply
	err := s.db.SelectContext(ctx, &supplies,
		"SELECT id, business_id, name, stock_quantity, unit_price, updated_at FROM supplies ORDER BY id")
	return supplies, err
}

// GetSupplyByID retrieves a supply by ID
func (s *Store) GetSupplyByID(ctx context.Context, id string) (*models.Supply, error) {
	var supply models.Supply
	err := s.db.GetContext(ctx, &supply,
		"SELECT id, business_id, name, stock_quantity, unit_price, updated_at FROM supplies WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("supply %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &supply, nil
}

// DeductSupplyStock subtracts quantity from a supply, never going below
// zero, and returns the remaining stock.
func (s *Store) DeductSupplyStock(ctx context.Context, supplyID string, quantity int) (int, error) {
	var remaining int
	err := s.db.GetContext(ctx, &remaining,
		`UPDATE supplies
		 SET stock_quantity = GREATEST(stock_quantity - $1, 0), updated_at = NOW()
		 WHERE id = $2
		 RETURNING stock_quantity`,
		quantity, supplyID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("supply %s: %w", supplyID, ErrNotFound)
	}
	return remaining, err
}

// GetBusinessByID retrieves a business by ID
func (s *Store) GetBusinessByID(ctx context.Context, id string) (*models.Business, error) {
	var b models.Business
	err := s.db.GetContext(ctx, &b,
		`SELECT id, name, COALESCE(phone, '') AS phone, COALESCE(address, '') AS address,
		        whatsapp_business_account_id, whatsapp_phone_number_id
		 FROM businesses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetSpecialistsByIDs retrieves multiple specialists by IDs
func (s *Store) GetSpecialistsByIDs(ctx context.Context, ids []string) ([]models.Specialist, error) {
	if len(ids) == 0 {
		return []models.Specialist{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, business_id, name, COALESCE(phone, '') AS phone, commission_rate
		 FROM specialists WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var specialists []models.Specialist
	err = s.db.SelectContext(ctx, &specialists, query, args...)
	return specialists, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
