package bid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBidNotFound signals no bid with that ID exists on the job.
var ErrBidNotFound = errors.New("bid: not found")

// Repository defines the bid data access used by the service. All write
// methods operate inside the caller's transaction so the parent job's row
// lock covers the bid mutation.
type Repository interface {
	Upsert(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, jobID, bidID string) (Bid, error)
	SetStatus(ctx context.Context, tx pgx.Tx, bidID string, status BidStatus) (Bid, error)
	SetCounter(ctx context.Context, tx pgx.Tx, bidID string, amount int64, etaMinutes *int, message *string) (Bid, error)
	ResolveCounter(ctx context.Context, tx pgx.Tx, bidID string, accepted bool) (Bid, error)
	ListForJob(ctx context.Context, jobID string) ([]Bid, error)
}

const bidColumns = `id, job_id, provider_id, amount, eta_minutes, message, bid_status::text,
	counter_amount, counter_eta_minutes, counter_message, counter_status::text,
	created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert writes the provider's single bid for a job, overwriting the offer
// fields on conflict. Counter fields are left as they are so a re-placed
// identical offer stays idempotent.
func (r *PGRepository) Upsert(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error) {
	query := `
		INSERT INTO bids (id, job_id, provider_id, amount, eta_minutes, message, bid_status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, 'placed')
		ON CONFLICT (job_id, provider_id) DO UPDATE
		SET amount = EXCLUDED.amount,
		    eta_minutes = EXCLUDED.eta_minutes,
		    message = EXCLUDED.message,
		    bid_status = 'placed',
		    updated_at = get_tx_timestamp()
		RETURNING ` + bidColumns

	row := tx.QueryRow(ctx, query, b.ID, b.JobID, b.ProviderID, b.Amount, b.ETAMinutes, b.Message)
	placed, err := scanBid(row)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: upsert: %w", err)
	}
	return placed, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID, bidID string) (Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1 AND job_id = $2 FOR UPDATE`

	b, err := scanBid(tx.QueryRow(ctx, query, bidID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrBidNotFound
		}
		return Bid{}, fmt.Errorf("bid: get for update: %w", err)
	}
	return b, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, bidID string, status BidStatus) (Bid, error) {
	query := `
		UPDATE bids
		SET bid_status = $2::bid_status, updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + bidColumns

	b, err := scanBid(tx.QueryRow(ctx, query, bidID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrBidNotFound
		}
		return Bid{}, fmt.Errorf("bid: set status: %w", err)
	}
	return b, nil
}

func (r *PGRepository) SetCounter(ctx context.Context, tx pgx.Tx, bidID string, amount int64, etaMinutes *int, message *string) (Bid, error) {
	query := `
		UPDATE bids
		SET counter_amount = $2,
		    counter_eta_minutes = $3,
		    counter_message = $4,
		    counter_status = 'countered_by_customer'::counter_status,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + bidColumns

	b, err := scanBid(tx.QueryRow(ctx, query, bidID, amount, etaMinutes, message))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrBidNotFound
		}
		return Bid{}, fmt.Errorf("bid: set counter: %w", err)
	}
	return b, nil
}

// ResolveCounter records the provider's decision. Acceptance copies the
// counter values into the primary offer fields.
func (r *PGRepository) ResolveCounter(ctx context.Context, tx pgx.Tx, bidID string, accepted bool) (Bid, error) {
	var query string
	if accepted {
		query = `
			UPDATE bids
			SET amount = counter_amount,
			    eta_minutes = COALESCE(counter_eta_minutes, eta_minutes),
			    message = COALESCE(counter_message, message),
			    counter_status = 'counter_accepted_by_provider'::counter_status,
			    updated_at = get_tx_timestamp()
			WHERE id = $1 AND counter_status = 'countered_by_customer'
			RETURNING ` + bidColumns
	} else {
		query = `
			UPDATE bids
			SET counter_status = 'counter_rejected_by_provider'::counter_status,
			    updated_at = get_tx_timestamp()
			WHERE id = $1 AND counter_status = 'countered_by_customer'
			RETURNING ` + bidColumns
	}

	b, err := scanBid(tx.QueryRow(ctx, query, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrBidNotFound
		}
		return Bid{}, fmt.Errorf("bid: resolve counter: %w", err)
	}
	return b, nil
}

func (r *PGRepository) ListForJob(ctx context.Context, jobID string) ([]Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE job_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("bid: list for job: %w", err)
	}
	defer rows.Close()

	out := make([]Bid, 0, 8)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return out, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var (
		b             Bid
		status        string
		counterStatus *string
	)
	err := row.Scan(
		&b.ID,
		&b.JobID,
		&b.ProviderID,
		&b.Amount,
		&b.ETAMinutes,
		&b.Message,
		&status,
		&b.CounterAmount,
		&b.CounterETAMinutes,
		&b.CounterMessage,
		&counterStatus,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return Bid{}, err
	}

	b.BidStatus = BidStatus(status)
	if counterStatus != nil {
		cs := CounterStatus(*counterStatus)
		b.CounterStatus = &cs
	}
	return b, nil
}
