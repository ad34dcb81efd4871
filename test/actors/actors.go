package actors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Bidder re-places a provider's bid on the job while it stays biddable,
// exercising the one-bid-per-provider upsert under contention.
func Bidder(ctx context.Context, pool *pgxpool.Pool, jobID, providerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := 200 + rand.Intn(800)
		_, err := pool.Exec(ctx, `
			INSERT INTO bids (job_id, provider_id, amount, eta_minutes, bid_status)
			SELECT $1, $2, $3, $4, 'placed'
			WHERE EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND status IN ('unclaimed','open','bidding'))
			ON CONFLICT (job_id, provider_id) DO UPDATE
			SET amount = EXCLUDED.amount, eta_minutes = EXCLUDED.eta_minutes, bid_status = 'placed'`,
			jobID, providerID, amount, 15+rand.Intn(60))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "40001" || pgErr.Code == "40P01") {
				// expected under contention
			} else {
				return fmt.Errorf("bidder upsert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Acceptor races to accept one bid on the job: lock the job row, skip if it
// already left the biddable states, otherwise project the winning bid onto it.
func Acceptor(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status::text FROM jobs WHERE id=$1 FOR UPDATE`, jobID).Scan(&status)
		if err == nil && (status == "unclaimed" || status == "open" || status == "bidding") {
			var bidID, providerID string
			err = tx.QueryRow(ctx, `SELECT id, provider_id FROM bids WHERE job_id=$1 AND bid_status='placed' ORDER BY random() LIMIT 1`, jobID).Scan(&bidID, &providerID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE jobs SET status='accepted', provider_id=$2, accepted_bid_id=$3 WHERE id=$1`, jobID, providerID, bidID)
				if err == nil {
					_, err = tx.Exec(ctx, `UPDATE bids SET bid_status='accepted_by_customer' WHERE id=$1`, bidID)
				}
				if err == nil {
					_ = tx.Commit(ctx)
				}
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Counterer writes customer counter-offers on placed bids and ratchets the
// open job into bidding.
func Counterer(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status::text FROM jobs WHERE id=$1 FOR UPDATE`, jobID).Scan(&status)
		if err == nil && (status == "unclaimed" || status == "open" || status == "bidding") {
			_, _ = tx.Exec(ctx, `
				UPDATE bids SET counter_amount=$2, counter_status='countered_by_customer'
				WHERE id = (SELECT id FROM bids WHERE job_id=$1 AND bid_status='placed' ORDER BY random() LIMIT 1)`,
				jobID, 100+rand.Intn(500))
			if status == "open" {
				_, _ = tx.Exec(ctx, `UPDATE jobs SET status='bidding' WHERE id=$1 AND status='open'`, jobID)
			}
			_ = tx.Commit(ctx)
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(30+rand.Intn(40)) * time.Millisecond)
	}
}

// CounterResponder folds pending counters into the primary offer, the way a
// provider accepting a counter does.
func CounterResponder(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(2) == 0 {
			_, _ = pool.Exec(ctx, `
				UPDATE bids SET amount=counter_amount, counter_status='counter_accepted_by_provider'
				WHERE job_id=$1 AND counter_status='countered_by_customer'`, jobID)
		} else {
			_, _ = pool.Exec(ctx, `
				UPDATE bids SET counter_status='counter_rejected_by_provider'
				WHERE job_id=$1 AND counter_status='countered_by_customer'`, jobID)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Advancer walks the accepted job forward one lifecycle step at a time,
// stamping each step's timestamp exactly once.
func Advancer(ctx context.Context, pool *pgxpool.Pool, jobID, technicianID string, stop <-chan struct{}) error {
	next := map[string]string{
		"accepted":    "assigned",
		"assigned":    "enroute",
		"enroute":     "on_site",
		"on_site":     "in_progress",
		"in_progress": "completed",
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status::text FROM jobs WHERE id=$1 FOR UPDATE`, jobID).Scan(&status)
		if err == nil {
			if to, ok := next[status]; ok {
				if status == "accepted" {
					_, _ = tx.Exec(ctx, `
						UPDATE jobs SET assigned_technician_id=$2, assigned_to=$2, assigned_to_uid=$2, assigned_employee_uid=$2
						WHERE id=$1`, jobID, technicianID)
				}
				_, err = tx.Exec(ctx, `
					UPDATE jobs SET status=$2::job_status,
						assigned_at    = CASE WHEN $2='assigned'    THEN COALESCE(assigned_at, get_tx_timestamp())    ELSE assigned_at END,
						enroute_at     = CASE WHEN $2='enroute'     THEN COALESCE(enroute_at, get_tx_timestamp())     ELSE enroute_at END,
						on_site_at     = CASE WHEN $2='on_site'     THEN COALESCE(on_site_at, get_tx_timestamp())     ELSE on_site_at END,
						in_progress_at = CASE WHEN $2='in_progress' THEN COALESCE(in_progress_at, get_tx_timestamp()) ELSE in_progress_at END,
						completed_at   = CASE WHEN $2='completed'   THEN COALESCE(completed_at, get_tx_timestamp())   ELSE completed_at END
					WHERE id=$1`, jobID, to)
				if err == nil {
					_ = tx.Commit(ctx)
				}
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// TokenIssuer keeps re-issuing the unclaimed job's token while nobody has
// claimed it, overwriting the stored digest each time.
func TokenIssuer(ctx context.Context, pool *pgxpool.Pool, jobID string, secrets chan<- string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		secret := fmt.Sprintf("code-%d", rand.Int63())
		sum := sha256.Sum256([]byte(secret))
		digest := hex.EncodeToString(sum[:])
		tag, err := pool.Exec(ctx, `
			UPDATE jobs SET claim_token_hash=$2, claim_token_expires_at=NOW() + interval '1 hour'
			WHERE id=$1 AND customer_uid IS NULL`, jobID, digest)
		if err == nil && tag.RowsAffected() == 1 {
			select {
			case secrets <- secret:
			default:
			}
		}
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// Claimer races customers against each other for the unclaimed job: lock the
// row, verify the current digest, bind the first identity, clear the token.
func Claimer(ctx context.Context, pool *pgxpool.Pool, jobID, customerUID string, secrets <-chan string, stop <-chan struct{}) error {
	for {
		var secret string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case secret = <-secrets:
		case <-time.After(200 * time.Millisecond):
			continue
		}

		sum := sha256.Sum256([]byte(secret))
		digest := hex.EncodeToString(sum[:])

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var storedDigest *string
		var customer *string
		err = tx.QueryRow(ctx, `SELECT claim_token_hash, customer_uid FROM jobs WHERE id=$1 FOR UPDATE`, jobID).Scan(&storedDigest, &customer)
		if err == nil && customer == nil && storedDigest != nil && *storedDigest == digest {
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET customer_uid=$2, claim_token_hash=NULL, claim_token_expires_at=NULL,
					status = CASE WHEN status='unclaimed' THEN 'open'::job_status ELSE status END
				WHERE id=$1`, jobID, customerUID)
			if err == nil {
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
	}
}
