package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// PostgresStore persists customer records in PostgreSQL. Category payloads
// are stored as a single JSONB document; the store never inspects them.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed customer store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, institutionID string, key identity.CustomerKey) (*models.Record, error) {
	query := `
		SELECT institution_id, customer_key, categories, metadata
		FROM customer_records
		WHERE institution_id = $1 AND customer_key = $2
	`
	return scanRecord(s.db.QueryRowContext(ctx, query, institutionID, string(key)))
}

func (s *PostgresStore) FindByKey(ctx context.Context, key identity.CustomerKey) (*models.Record, error) {
	query := `
		SELECT institution_id, customer_key, categories, metadata
		FROM customer_records
		WHERE customer_key = $1
		ORDER BY (metadata->>'createdAt') ASC
		LIMIT 1
	`
	return scanRecord(s.db.QueryRowContext(ctx, query, string(key)))
}

func (s *PostgresStore) Put(ctx context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("customer record is required")
	}
	categories, err := json.Marshal(record.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
		INSERT INTO customer_records (institution_id, customer_key, categories, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (institution_id, customer_key)
		DO UPDATE SET categories = EXCLUDED.categories, metadata = EXCLUDED.metadata
	`
	if _, err := s.db.ExecContext(ctx, query, record.Institution, string(record.CustomerKey), categories, metadata); err != nil {
		return fmt.Errorf("put customer record: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func scanRecord(row *sql.Row) (*models.Record, error) {
	var (
		record     models.Record
		key        string
		categories []byte
		metadata   []byte
	)
	err := row.Scan(&record.Institution, &key, &categories, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan customer record: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	record.CustomerKey = identity.CustomerKey(key)
	if err := json.Unmarshal(categories, &record.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &record, nil
}
