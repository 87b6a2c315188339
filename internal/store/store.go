package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

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

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetClientByID retrieves a client by internal id
func (s *Store) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetClientByTgID retrieves a client by Telegram id
func (s *Store) GetClientByTgID(ctx context.Context, tgID int64) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE tg_id = $1", tgID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client tg %d: %w", tgID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetClientByEmail retrieves a client by email credential
func (s *Store) GetClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetPickupPoint retrieves a pickup point by id
func (s *Store) GetPickupPoint(ctx context.Context, id int64) (*models.PickupPoint, error) {
	var point models.PickupPoint
	err := s.db.GetContext(ctx, &point, "SELECT * FROM pickup_points WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pickup point %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &point, nil
}
