package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/shared/postgresql"
)

var _ SampleStore = (*PostgresSampleStore)(nil)

// PostgresSampleStore archives price samples in the price_samples table
type PostgresSampleStore struct {
	db *sqlx.DB
}

// NewPostgresSampleStore creates a new PostgresSampleStore
func NewPostgresSampleStore(pg *postgresql.Client) *PostgresSampleStore {
	return &PostgresSampleStore{db: pg.GetDB()}
}

type sampleRow struct {
	SampleID    string          `db:"sample_id"`
	CategoryID  string          `db:"category_id"`
	Price       decimal.Decimal `db:"price"`
	CompletedAt time.Time       `db:"completed_at"`
}

func (s *PostgresSampleStore) Insert(ctx context.Context, sample domain.PriceSample) (bool, error) {
	query := `
		INSERT INTO price_samples (sample_id, category_id, price, completed_at)
		VALUES (:sample_id, :category_id, :price, :completed_at)
		ON CONFLICT (sample_id) DO NOTHING
	`

	result, err := s.db.NamedExecContext(ctx, query, sampleRow{
		SampleID:    sample.SampleID,
		CategoryID:  sample.CategoryID,
		Price:       sample.Price,
		CompletedAt: sample.CompletedAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert price sample: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresSampleStore) LoadSince(ctx context.Context, since time.Time) ([]domain.PriceSample, error) {
	query := `
		SELECT sample_id, category_id, price, completed_at
		FROM price_samples
		WHERE completed_at > $1
		ORDER BY completed_at ASC
	`

	var rows []sampleRow
	if err := s.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to load price samples: %w", err)
	}

	samples := make([]domain.PriceSample, len(rows))
	for i, r := range rows {
		samples[i] = domain.PriceSample{
			SampleID:    r.SampleID,
			CategoryID:  r.CategoryID,
			Price:       r.Price,
			CompletedAt: r.CompletedAt,
		}
	}
	return samples, nil
}
