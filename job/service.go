package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadflow/auth"
	"roadflow/db"
)

var (
	// ErrInvalidTransition signals a status edge outside the lifecycle, or
	// a transition whose precondition (such as an accepted provider) is
	// missing. The job is left unchanged.
	ErrInvalidTransition = errors.New("job: invalid transition")
	// ErrForbidden signals the caller's role does not permit the operation.
	ErrForbidden = errors.New("job: forbidden")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier receives the job after a committed status change. Implementations
// own the at-most-once bookkeeping; failures must never surface here.
type Notifier interface {
	JobStatusChanged(ctx context.Context, j Job)
}

// Service handles job creation and reads.
type Service struct {
	pool  TxBeginner
	repo  Repository
	idGen func() string
	now   func() time.Time
}

// CreateParams enumerates the caller-supplied fields of a new job.
type CreateParams struct {
	IssueKind      string
	PickupAddress  string
	DropoffAddress *string
	ContactPhone   *string
	LocationID     *string
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Create opens a new job. A customer creates it bound to their own identity
// in the open state; dispatch-side callers create it unclaimed on behalf of
// a customer who has not signed in, ready for the claim-token flow.
func (s *Service) Create(ctx context.Context, caller auth.CallerContext, params CreateParams) (Job, error) {
	if params.IssueKind == "" {
		return Job{}, fmt.Errorf("job: issue kind required")
	}
	if params.PickupAddress == "" {
		return Job{}, fmt.Errorf("job: pickup address required")
	}

	j := Job{
		ID:             s.idGen(),
		IssueKind:      params.IssueKind,
		PickupAddress:  params.PickupAddress,
		DropoffAddress: params.DropoffAddress,
		ContactPhone:   params.ContactPhone,
		LocationID:     params.LocationID,
	}

	switch caller.Role {
	case auth.RoleCustomer:
		uid := caller.UserID
		j.Status = StatusOpen
		j.CustomerUID = &uid
	case auth.RoleProviderAdmin, auth.RoleDispatcher:
		if caller.ProviderID == nil {
			return Job{}, ErrForbidden
		}
		j.Status = StatusUnclaimed
		j.ProviderID = caller.ProviderID
	case auth.RoleGlobalDispatch:
		j.Status = StatusUnclaimed
	default:
		return Job{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, j)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, db.Conflict(fmt.Errorf("job: commit create: %w", err))
	}

	return created, nil
}

// Get returns a single job.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns jobs matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	return s.repo.List(ctx, filters)
}

// StatusService applies validated lifecycle transitions to jobs.
type StatusService struct {
	pool     TxBeginner
	repo     Repository
	notifier Notifier
}

func NewStatusService(pool TxBeginner, repo Repository) *StatusService {
	return &StatusService{pool: pool, repo: repo}
}

func (s *StatusService) WithNotifier(n Notifier) *StatusService {
	s.notifier = n
	return s
}

// Transition moves a job to the next status inside a single transaction.
// Re-applying the current status is a no-op, not an error, so retries are
// harmless and already-set timestamps survive.
func (s *StatusService) Transition(ctx context.Context, caller auth.CallerContext, jobID string, next Status) (Job, error) {
	if !ValidStatus(next) {
		return Job{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, db.Conflict(err)
	}

	if current.Status == next {
		// Replays are answered only for callers with standing on the job,
		// so strangers cannot read a job back through a no-op transition.
		if !relatedToJob(caller, current) {
			return Job{}, fmt.Errorf("%w: role %s has no standing on this job", ErrForbidden, caller.Role)
		}
		return current, nil
	}

	if !allowedForCaller(caller, current, next) {
		return Job{}, fmt.Errorf("%w: role %s may not apply %s", ErrForbidden, caller.Role, next)
	}
	if !CanTransition(current.Status, next) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}
	if next == StatusAccepted && current.ProviderID == nil {
		return Job{}, fmt.Errorf("%w: cannot accept without a provider on record", ErrInvalidTransition)
	}
	if next == StatusAssigned && current.ProviderID == nil {
		return Job{}, fmt.Errorf("%w: cannot assign without an accepted provider", ErrInvalidTransition)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, jobID, next)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, db.Conflict(fmt.Errorf("job: commit transition: %w", err))
	}

	if s.notifier != nil {
		s.notifier.JobStatusChanged(ctx, updated)
	}

	return updated, nil
}
