package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// PostgresStore persists jobs and offers in PostgreSQL. Update serializes
// writers on a job by holding the job row lock (SELECT ... FOR UPDATE) for
// the whole transition, and every UPDATE is additionally guarded by the
// status it expects to replace.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(pg *postgresql.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates the tables and indexes when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type jobRow struct {
	JobID              string          `db:"job_id"`
	CustomerID         string          `db:"customer_id"`
	CategoryID         string          `db:"category_id"`
	Title              string          `db:"title"`
	Description        string          `db:"description"`
	Lat                float64         `db:"lat"`
	Lng                float64         `db:"lng"`
	Address            string          `db:"address"`
	ArrivalWindowHours int             `db:"arrival_window_hours"`
	EstimatedPrice     decimal.Decimal `db:"estimated_price"`
	Status             string          `db:"status"`
	AcceptedProviderID sql.NullString  `db:"accepted_provider_id"`
	AcceptDeadline     time.Time       `db:"accept_deadline"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r *jobRow) toDomain() domain.Job {
	return domain.Job{
		JobID:              r.JobID,
		CustomerID:         r.CustomerID,
		CategoryID:         r.CategoryID,
		Title:              r.Title,
		Description:        r.Description,
		Location:           domain.Location{Lat: r.Lat, Lng: r.Lng},
		Address:            r.Address,
		ArrivalWindowHours: r.ArrivalWindowHours,
		EstimatedPrice:     r.EstimatedPrice,
		Status:             domain.JobStatus(r.Status),
		AcceptedProviderID: r.AcceptedProviderID.String,
		AcceptDeadline:     r.AcceptDeadline,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type offerRow struct {
	JobID         string       `db:"job_id"`
	ProviderID    string       `db:"provider_id"`
	DistanceKm    float64      `db:"distance_km"`
	Status        string       `db:"status"`
	IssuedAt      time.Time    `db:"issued_at"`
	ExpiresAt     time.Time    `db:"expires_at"`
	RespondedAt   sql.NullTime `db:"responded_at"`
	DeclineReason string       `db:"decline_reason"`
}

func (r *offerRow) toDomain() domain.Offer {
	o := domain.Offer{
		JobID:         r.JobID,
		ProviderID:    r.ProviderID,
		DistanceKm:    r.DistanceKm,
		Status:        domain.OfferStatus(r.Status),
		IssuedAt:      r.IssuedAt,
		ExpiresAt:     r.ExpiresAt,
		DeclineReason: domain.DeclineReason(r.DeclineReason),
	}
	if r.RespondedAt.Valid {
		at := r.RespondedAt.Time
		o.RespondedAt = &at
	}
	return o
}

const jobColumns = `
	job_id, customer_id, category_id, title, description, lat, lng, address,
	arrival_window_hours, estimated_price, status, accepted_provider_id,
	accept_deadline, created_at, updated_at`

const offerColumns = `
	job_id, provider_id, distance_km, status, issued_at, expires_at,
	responded_at, decline_reason`

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (job_id) DO NOTHING
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.CustomerID,
		job.CategoryID,
		job.Title,
		job.Description,
		job.Location.Lat,
		job.Location.Lng,
		job.Address,
		job.ArrivalWindowHours,
		job.EstimatedPrice,
		string(job.Status),
		nullString(job.AcceptedProviderID),
		job.AcceptDeadline,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobExists
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*JobState, error) {
	return s.loadState(ctx, s.db, jobID, false)
}

// loadState reads a job and its offers. With lock set the job row stays
// locked until the surrounding transaction ends.
func (s *PostgresStore) loadState(ctx context.Context, q sqlx.QueryerContext, jobID string, lock bool) (*JobState, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var jr jobRow
	if err := sqlx.GetContext(ctx, q, &jr, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "job", ID: jobID}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var ors []offerRow
	if err := sqlx.SelectContext(ctx, q, &ors, `SELECT `+offerColumns+` FROM offers WHERE job_id = $1 ORDER BY seq`, jobID); err != nil {
		return nil, fmt.Errorf("failed to get offers: %w", err)
	}

	st := &JobState{Job: jr.toDomain(), Offers: make([]domain.Offer, 0, len(ors))}
	for i := range ors {
		st.Offers = append(st.Offers, ors[i].toDomain())
	}
	return st, nil
}

func (s *PostgresStore) Update(ctx context.Context, jobID string, fn func(*JobState) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev, err := s.loadState(ctx, tx, jobID, true)
	if err != nil {
		return err
	}

	next := prev.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := checkTransition(prev, next); err != nil {
		return err
	}

	if err := s.writeJob(ctx, tx, &prev.Job, &next.Job); err != nil {
		return err
	}
	for i := range next.Offers {
		if i >= len(prev.Offers) {
			if err := s.insertOffer(ctx, tx, &next.Offers[i]); err != nil {
				return err
			}
			continue
		}
		if prev.Offers[i].Status != next.Offers[i].Status {
			if err := s.resolveOffer(ctx, tx, &next.Offers[i]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) writeJob(ctx context.Context, tx *sqlx.Tx, prev, next *domain.Job) error {
	if prev.Status == next.Status &&
		prev.AcceptedProviderID == next.AcceptedProviderID &&
		prev.AcceptDeadline.Equal(next.AcceptDeadline) {
		return nil
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    accepted_provider_id = $2,
		    accept_deadline = $3,
		    updated_at = $4
		WHERE job_id = $5
		  AND status = $6
	`
	result, err := tx.ExecContext(ctx, query,
		string(next.Status),
		nullString(next.AcceptedProviderID),
		next.AcceptDeadline,
		next.UpdatedAt,
		next.JobID,
		string(prev.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectOneRow(result, "job "+next.JobID)
}

func (s *PostgresStore) insertOffer(ctx context.Context, tx *sqlx.Tx, o *domain.Offer) error {
	query := `
		INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		o.JobID,
		o.ProviderID,
		o.DistanceKm,
		string(o.Status),
		o.IssuedAt,
		o.ExpiresAt,
		nullTime(o.RespondedAt),
		string(o.DeclineReason),
	)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) resolveOffer(ctx context.Context, tx *sqlx.Tx, o *domain.Offer) error {
	query := `
		UPDATE offers
		SET status = $1,
		    responded_at = $2,
		    decline_reason = $3
		WHERE job_id = $4
		  AND provider_id = $5
		  AND status = $6
	`
	result, err := tx.ExecContext(ctx, query,
		string(o.Status),
		nullTime(o.RespondedAt),
		string(o.DeclineReason),
		o.JobID,
		o.ProviderID,
		string(domain.OfferStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return expectOneRow(result, "offer "+o.JobID+"/"+o.ProviderID)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argIdx)
		args = append(args, filter.CustomerID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

func (s *PostgresStore) ListAvailableOffers(ctx context.Context, providerID string, now time.Time) ([]domain.AvailableOffer, error) {
	query := `
		SELECT
			o.job_id AS "o.job_id", o.provider_id AS "o.provider_id", o.distance_km AS "o.distance_km",
			o.status AS "o.status", o.issued_at AS "o.issued_at", o.expires_at AS "o.expires_at",
			o.responded_at AS "o.responded_at", o.decline_reason AS "o.decline_reason",
			j.job_id, j.customer_id, j.category_id, j.title, j.description, j.lat, j.lng, j.address,
			j.arrival_window_hours, j.estimated_price, j.status, j.accepted_provider_id,
			j.accept_deadline, j.created_at, j.updated_at
		FROM offers o
		JOIN jobs j ON j.job_id = o.job_id
		WHERE o.provider_id = $1
		  AND o.status = $2
		  AND o.expires_at >= $3
		  AND j.status IN ($4, $5)
		ORDER BY o.distance_km ASC, o.job_id ASC
	`

	var rows []struct {
		Offer offerRow `db:"o"`
		jobRow
	}
	err := s.db.SelectContext(ctx, &rows, query,
		providerID,
		string(domain.OfferStatusPending),
		now,
		string(domain.JobStatusPosted),
		string(domain.JobStatusOffered),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list available offers: %w", err)
	}

	out := make([]domain.AvailableOffer, len(rows))
	for i := range rows {
		out[i] = domain.AvailableOffer{Offer: rows[i].Offer.toDomain(), Job: rows[i].jobRow.toDomain()}
	}
	return out, nil
}

func (s *PostgresStore) ListOverdueOffers(ctx context.Context, now time.Time, limit int) ([]domain.OfferKey, error) {
	query := `
		SELECT job_id, provider_id
		FROM offers
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	var rows []struct {
		JobID      string `db:"job_id"`
		ProviderID string `db:"provider_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, string(domain.OfferStatusPending), now, limit); err != nil {
		return nil, fmt.Errorf("failed to list overdue offers: %w", err)
	}

	keys := make([]domain.OfferKey, len(rows))
	for i, r := range rows {
		keys[i] = domain.OfferKey{JobID: r.JobID, ProviderID: r.ProviderID}
	}
	return keys, nil
}

func (s *PostgresStore) ListOverdueJobs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT job_id
		FROM jobs
		WHERE status IN ($1, $2) AND accept_deadline <= $3
		ORDER BY accept_deadline ASC
		LIMIT $4
	`
	var ids []string
	err := s.db.SelectContext(ctx, &ids, query,
		string(domain.JobStatusPosted), string(domain.JobStatusOffered), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue jobs: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListStalePostedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	query := `
		SELECT job_id
		FROM jobs
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, string(domain.JobStatusPosted), createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale posted jobs: %w", err)
	}
	return ids, nil
}

// Close is a no-op; the shared postgresql client owns the connection pool.
func (s *PostgresStore) Close() error {
	return nil
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: %s changed concurrently", domain.ErrInvariantViolation, what)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
