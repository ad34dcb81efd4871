package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadflow/job"
)

// ErrJobNotFound is returned when no job row exists for the identifier.
var ErrJobNotFound = errors.New("claim: job not found")

// JobClaimState is the slice of a job row the claim protocol reads under lock.
type JobClaimState struct {
	ID             string
	Status         job.Status
	CustomerUID    *string
	ProviderID     *string
	TokenDigest    *string
	TokenExpiresAt *time.Time
}

// Repository defines the data access for the claim-token protocol. Every
// method runs inside the caller's transaction; the row lock taken by
// JobForUpdate serializes competing claims on the same job.
type Repository interface {
	JobForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (JobClaimState, error)
	StoreToken(ctx context.Context, tx pgx.Tx, jobID, digest string, expiresAt time.Time) error
	BindCustomer(ctx context.Context, tx pgx.Tx, jobID, customerUID string) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) JobForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (JobClaimState, error) {
	const query = `
		SELECT id, status::text, customer_uid, provider_id, claim_token_hash, claim_token_expires_at
		FROM jobs
		WHERE id = $1
		FOR UPDATE
	`

	var (
		state  JobClaimState
		status string
	)
	err := tx.QueryRow(ctx, query, jobID).Scan(
		&state.ID,
		&status,
		&state.CustomerUID,
		&state.ProviderID,
		&state.TokenDigest,
		&state.TokenExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobClaimState{}, ErrJobNotFound
		}
		return JobClaimState{}, fmt.Errorf("claim: job for update: %w", err)
	}
	state.Status = job.Status(status)
	return state, nil
}

// StoreToken overwrites the job's token digest and expiry. Overwriting is
// what enforces the single-active-token invariant: a prior unclaimed token
// stops verifying the moment a new one is issued.
func (r *PGRepository) StoreToken(ctx context.Context, tx pgx.Tx, jobID, digest string, expiresAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs
		SET claim_token_hash = $2,
		    claim_token_expires_at = $3,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`, jobID, digest, expiresAt)
	if err != nil {
		return fmt.Errorf("claim: store token: %w", err)
	}
	return nil
}

// BindCustomer attaches the customer identity, clears the token columns,
// and promotes an unclaimed job to open, all in one statement.
func (r *PGRepository) BindCustomer(ctx context.Context, tx pgx.Tx, jobID, customerUID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs
		SET customer_uid = $2,
		    claim_token_hash = NULL,
		    claim_token_expires_at = NULL,
		    status = CASE WHEN status = 'unclaimed' THEN 'open'::job_status ELSE status END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`, jobID, customerUID)
	if err != nil {
		return fmt.Errorf("claim: bind customer: %w", err)
	}
	return nil
}
