package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// PostgresStore persists consents in PostgreSQL. Transitions run inside a
// transaction with SELECT ... FOR UPDATE so concurrent deciders on the same
// consent serialize at the row; independent consents never contend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consentColumns = `
	id, customer_key, requesting_institution, providing_institution,
	data_categories, purpose, created_at, expiry_date, status,
	decided_at, decision_method, revoked_at, used_at, use_count
`

func (s *PostgresStore) Save(ctx context.Context, consent *models.Consent) error {
	if consent == nil {
		return fmt.Errorf("consent is required")
	}
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	categories, err := json.Marshal(categoriesToStrings(consent.DataCategories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(consent.ID),
		string(consent.CustomerKey),
		consent.RequestingInstitution,
		consent.ProvidingInstitution,
		categories,
		consent.Purpose,
		consent.CreatedAt,
		consent.ExpiryDate,
		string(consent.Status),
		consent.DecidedAt,
		string(consent.DecisionMethod),
		consent.RevokedAt,
		consent.UsedAt,
		consent.UseCount,
	)
	if err != nil {
		return fmt.Errorf("save consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save consent rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	consent, err := scanConsent(s.db.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return consent, nil
}

func (s *PostgresStore) Execute(ctx context.Context, consentID id.ConsentID,
	validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent tx: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1 FOR UPDATE`
	consent, err := scanConsent(tx.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}

	if err := validate(consent); err != nil {
		return nil, err
	}
	mutate(consent)

	update := `
		UPDATE consents
		SET status = $2, decided_at = $3, decision_method = $4,
		    revoked_at = $5, used_at = $6, use_count = $7
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(consent.ID),
		string(consent.Status),
		consent.DecidedAt,
		string(consent.DecisionMethod),
		consent.RevokedAt,
		consent.UsedAt,
		consent.UseCount,
	); err != nil {
		return nil, fmt.Errorf("update consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent tx: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return consent, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Consent, error) {
	var (
		consent    models.Consent
		consentID  uuid.UUID
		key        string
		categories []byte
		status     string
		method     sql.NullString
		decidedAt  sql.NullTime
		revokedAt  sql.NullTime
		usedAt     sql.NullTime
	)
	err := row.Scan(
		&consentID,
		&key,
		&consent.RequestingInstitution,
		&consent.ProvidingInstitution,
		&categories,
		&consent.Purpose,
		&consent.CreatedAt,
		&consent.ExpiryDate,
		&status,
		&decidedAt,
		&method,
		&revokedAt,
		&usedAt,
		&consent.UseCount,
	)
	if err != nil {
		return nil, err
	}
	var categoryNames []string
	if err := json.Unmarshal(categories, &categoryNames); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	consent.ID = id.ConsentID(consentID)
	consent.CustomerKey = identity.CustomerKey(key)
	consent.DataCategories = stringsToCategories(categoryNames)
	consent.Status = models.Status(status)
	if method.Valid {
		consent.DecisionMethod = models.DecisionMethod(method.String)
	}
	consent.DecidedAt = nullableTime(decidedAt)
	consent.RevokedAt = nullableTime(revokedAt)
	consent.UsedAt = nullableTime(usedAt)
	return &consent, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func categoriesToStrings(categories []customer.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}

func stringsToCategories(in []string) []customer.Category {
	out := make([]customer.Category, len(in))
	for i, s := range in {
		out[i] = customer.Category(s)
	}
	return out
}
