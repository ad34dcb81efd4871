package bid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"roadflow/auth"
	"roadflow/db"
	"roadflow/job"
)

var (
	// ErrInvalidAmount signals an offer or counter-offer amount of zero or less.
	ErrInvalidAmount = errors.New("bid: invalid amount")
	// ErrJobNotBiddable signals the parent job has left the biddable states.
	ErrJobNotBiddable = errors.New("bid: job not biddable")
	// ErrForbidden signals the caller may not act on this bid.
	ErrForbidden = errors.New("bid: forbidden")
	// ErrNoPendingCounter signals a counter response without a customer
	// counter awaiting one.
	ErrNoPendingCounter = errors.New("bid: no pending counter")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// JobStore is the slice of the job repository the negotiation needs: a
// locked read of the parent job plus the two projections acceptance and
// countering write back onto it.
type JobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	SetAccepted(ctx context.Context, tx pgx.Tx, jobID, providerID, bidID string) (job.Job, error)
	AdvanceToBidding(ctx context.Context, tx pgx.Tx, jobID string) error
}

// Service implements the negotiation protocol over a provider's bids.
type Service struct {
	pool TxBeginner
	bids Repository
	jobs JobStore
}

func NewService(pool TxBeginner, bids Repository, jobs JobStore) *Service {
	return &Service{pool: pool, bids: bids, jobs: jobs}
}

// AcceptResult bundles the accepted bid and the updated parent job.
type AcceptResult struct {
	Bid Bid
	Job job.Job
}

// PlaceOrUpdate writes the calling provider's single bid for a job,
// overwriting a previous offer. Allowed only while the job is biddable.
func (s *Service) PlaceOrUpdate(ctx context.Context, caller auth.CallerContext, params PlaceParams) (Bid, error) {
	if caller.Role != auth.RoleProviderAdmin && caller.Role != auth.RoleDispatcher {
		return Bid{}, ErrForbidden
	}
	if caller.ProviderID == nil {
		return Bid{}, ErrForbidden
	}
	if params.Amount <= 0 {
		return Bid{}, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Bid{}, db.Conflict(err)
	}
	if !job.Biddable(parent.Status) {
		return Bid{}, fmt.Errorf("%w: job is %s", ErrJobNotBiddable, parent.Status)
	}

	placed, err := s.bids.Upsert(ctx, tx, Bid{
		JobID:      params.JobID,
		ProviderID: *caller.ProviderID,
		Amount:     params.Amount,
		ETAMinutes: params.ETAMinutes,
		Message:    params.Message,
	})
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, db.Conflict(fmt.Errorf("bid: commit place: %w", err))
	}

	return placed, nil
}

// Accept records the customer's acceptance of a bid and projects it onto
// the parent job: provider, accepted bid reference, and the accepted
// status, all in one transaction. Re-accepting the already accepted bid is
// an idempotent replay.
func (s *Service) Accept(ctx context.Context, caller auth.CallerContext, jobID, bidID string) (AcceptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return AcceptResult{}, db.Conflict(err)
	}
	if err := customerOwns(caller, parent); err != nil {
		return AcceptResult{}, err
	}

	if parent.Status == job.StatusAccepted && parent.AcceptedBidID != nil && *parent.AcceptedBidID == bidID {
		b, err := s.bids.GetForUpdate(ctx, tx, jobID, bidID)
		if err != nil {
			return AcceptResult{}, err
		}
		return AcceptResult{Bid: b, Job: parent}, nil
	}
	if !job.Biddable(parent.Status) {
		return AcceptResult{}, fmt.Errorf("%w: job is %s", ErrJobNotBiddable, parent.Status)
	}

	b, err := s.bids.GetForUpdate(ctx, tx, jobID, bidID)
	if err != nil {
		return AcceptResult{}, err
	}

	updatedJob, err := s.jobs.SetAccepted(ctx, tx, jobID, b.ProviderID, b.ID)
	if err != nil {
		return AcceptResult{}, err
	}
	accepted, err := s.bids.SetStatus(ctx, tx, b.ID, StatusAcceptedByCustomer)
	if err != nil {
		return AcceptResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, db.Conflict(fmt.Errorf("bid: commit accept: %w", err))
	}

	return AcceptResult{Bid: accepted, Job: updatedJob}, nil
}

// Reject marks a bid rejected by the customer. The parent job's status is
// untouched; other bids remain open.
func (s *Service) Reject(ctx context.Context, caller auth.CallerContext, jobID, bidID string) (Bid, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Bid{}, db.Conflict(err)
	}
	if err := customerOwns(caller, parent); err != nil {
		return Bid{}, err
	}

	b, err := s.bids.GetForUpdate(ctx, tx, jobID, bidID)
	if err != nil {
		return Bid{}, err
	}
	if b.BidStatus == StatusRejectedByCustomer {
		return b, nil
	}
	if !job.Biddable(parent.Status) {
		return Bid{}, fmt.Errorf("%w: job is %s", ErrJobNotBiddable, parent.Status)
	}

	rejected, err := s.bids.SetStatus(ctx, tx, b.ID, StatusRejectedByCustomer)
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, db.Conflict(fmt.Errorf("bid: commit reject: %w", err))
	}

	return rejected, nil
}

// SubmitCounter records the customer's counter-offer on a bid and, when the
// job was still open, ratchets it to bidding. The ratchet is one-way.
func (s *Service) SubmitCounter(ctx context.Context, caller auth.CallerContext, params CounterParams) (Bid, error) {
	if params.CounterAmount <= 0 {
		return Bid{}, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Bid{}, db.Conflict(err)
	}
	if err := customerOwns(caller, parent); err != nil {
		return Bid{}, err
	}
	if !job.Biddable(parent.Status) {
		return Bid{}, fmt.Errorf("%w: job is %s", ErrJobNotBiddable, parent.Status)
	}

	if _, err := s.bids.GetForUpdate(ctx, tx, params.JobID, params.BidID); err != nil {
		return Bid{}, err
	}

	countered, err := s.bids.SetCounter(ctx, tx, params.BidID, params.CounterAmount, params.CounterETAMinutes, params.CounterMessage)
	if err != nil {
		return Bid{}, err
	}

	if parent.Status == job.StatusOpen {
		if err := s.jobs.AdvanceToBidding(ctx, tx, params.JobID); err != nil {
			return Bid{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, db.Conflict(fmt.Errorf("bid: commit counter: %w", err))
	}

	return countered, nil
}

// RespondToCounter records the provider's decision on a pending customer
// counter. Acceptance folds the counter values into the primary offer; it
// does not change the job's status — the customer still has to accept the
// bid itself.
func (s *Service) RespondToCounter(ctx context.Context, caller auth.CallerContext, jobID, bidID string, decision Decision) (Bid, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return Bid{}, fmt.Errorf("bid: unknown decision %q", decision)
	}
	if caller.Role != auth.RoleProviderAdmin && caller.Role != auth.RoleDispatcher {
		return Bid{}, ErrForbidden
	}
	if caller.ProviderID == nil {
		return Bid{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Bid{}, db.Conflict(err)
	}

	b, err := s.bids.GetForUpdate(ctx, tx, jobID, bidID)
	if err != nil {
		return Bid{}, err
	}
	if b.ProviderID != *caller.ProviderID {
		return Bid{}, ErrForbidden
	}

	if b.CounterStatus != nil {
		// Idempotent replay of an already-resolved counter.
		if *b.CounterStatus == CounterAccepted && decision == DecisionAccept {
			return b, nil
		}
		if *b.CounterStatus == CounterRejected && decision == DecisionReject {
			return b, nil
		}
	}
	if !job.Biddable(parent.Status) {
		return Bid{}, fmt.Errorf("%w: job is %s", ErrJobNotBiddable, parent.Status)
	}
	if b.CounterStatus == nil || *b.CounterStatus != CounterPending {
		return Bid{}, ErrNoPendingCounter
	}

	resolved, err := s.bids.ResolveCounter(ctx, tx, b.ID, decision == DecisionAccept)
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, db.Conflict(fmt.Errorf("bid: commit counter response: %w", err))
	}

	return resolved, nil
}

// ListForJob returns the bids on a job, oldest first.
func (s *Service) ListForJob(ctx context.Context, jobID string) ([]Bid, error) {
	return s.bids.ListForJob(ctx, jobID)
}

func customerOwns(caller auth.CallerContext, parent job.Job) error {
	if caller.Role != auth.RoleCustomer {
		return ErrForbidden
	}
	if parent.CustomerUID == nil || *parent.CustomerUID != caller.UserID {
		return ErrForbidden
	}
	return nil
}
