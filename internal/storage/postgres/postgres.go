package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func New(dbUrl string) (*Storage, error) {
	db, err := sqlx.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts tx and reads back the creation time chosen by the database.
func (s *Storage) Append(ctx context.Context, tx *models.Transaction) error {
	const op = "storage.postgres.Append"

	query := `INSERT INTO transactions (id, user_id, amount, kind)
              VALUES ($1, $2, $3, $4) RETURNING created_at`

	var createdAt time.Time
	err := s.db.QueryRowxContext(ctx, query, tx.ID, tx.UserID, tx.Amount, string(tx.Kind)).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tx.CreatedAt = createdAt.UTC()
	return nil
}

// Query returns the user's records with created_at in [start, end], oldest first.
// seq breaks ties between records written in the same instant.
func (s *Storage) Query(ctx context.Context, userID string, start, end time.Time) ([]models.Transaction, error) {
	const op = "storage.postgres.Query"

	transactions := []models.Transaction{}

	query := `
		SELECT id, user_id, amount, kind, created_at
		FROM transactions
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at, seq`
	if err := s.db.SelectContext(ctx, &transactions, query, userID, start, end); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for i := range transactions {
		transactions[i].CreatedAt = transactions[i].CreatedAt.UTC()
	}

	return transactions, nil
}
