// Package assignment guards technician assignment: a technician may only be
// assigned to jobs at locations they belong to, and mixed-vintage records
// resolve their assignee through the canonical precedence on job.Job.
package assignment

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
	// ErrEmployeeNotInLocation signals the employee is not on the roster of
	// the job's location.
	ErrEmployeeNotInLocation = errors.New("assignment: employee not in location")
	// ErrAssignmentLocked signals the job has progressed past the point
	// where the assignee may change.
	ErrAssignmentLocked = errors.New("assignment: job progress locks the assignee")
	// ErrForbidden signals the caller may not dispatch for this job's provider.
	ErrForbidden = errors.New("assignment: forbidden")
	// ErrOutOfScope is a non-fatal advisory: the resolved assignee is not on
	// the job location's roster. Reads must stay possible even when
	// organisational data has drifted, so callers surface this next to the
	// job rather than failing.
	ErrOutOfScope = errors.New("assignment: assignee out of location scope")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// JobStore is the slice of the job repository the guard needs.
type JobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	SetAssignee(ctx context.Context, tx pgx.Tx, jobID string, employeeID *string) (job.Job, error)
}

// RosterChecker answers location membership questions.
type RosterChecker interface {
	RosterContains(ctx context.Context, locationID, employeeID string) (bool, error)
}

// Service validates and applies technician assignments.
type Service struct {
	pool   TxBeginner
	jobs   JobStore
	roster RosterChecker
}

func NewService(pool TxBeginner, jobs JobStore, roster RosterChecker) *Service {
	return &Service{pool: pool, jobs: jobs, roster: roster}
}

// AssignTechnician sets (or, with a nil employeeID, clears) the technician
// on a job. The employee must belong to the job's location roster. Once the
// job has recorded real progress (enroute or later) the assignee is locked.
func (s *Service) AssignTechnician(ctx context.Context, caller auth.CallerContext, jobID string, employeeID *string) (job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return job.Job{}, fmt.Errorf("assignment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return job.Job{}, db.Conflict(err)
	}

	if !caller.CanDispatch(current.ProviderID) {
		return job.Job{}, ErrForbidden
	}

	// Idempotent replay.
	assignee := current.CanonicalAssignee()
	if employeeID == nil && assignee == "" {
		return current, nil
	}
	if employeeID != nil && assignee == *employeeID {
		return current, nil
	}

	switch current.Status {
	case job.StatusEnroute, job.StatusOnSite, job.StatusInProgress, job.StatusCompleted, job.StatusCancelled:
		return job.Job{}, fmt.Errorf("%w: status %s", ErrAssignmentLocked, current.Status)
	}

	if employeeID != nil {
		if current.LocationID == nil {
			return job.Job{}, fmt.Errorf("%w: job has no location", ErrEmployeeNotInLocation)
		}
		ok, err := s.roster.RosterContains(ctx, *current.LocationID, *employeeID)
		if err != nil {
			return job.Job{}, err
		}
		if !ok {
			return job.Job{}, fmt.Errorf("%w: employee %s, location %s", ErrEmployeeNotInLocation, *employeeID, *current.LocationID)
		}
	}

	updated, err := s.jobs.SetAssignee(ctx, tx, jobID, employeeID)
	if err != nil {
		return job.Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return job.Job{}, db.Conflict(fmt.Errorf("assignment: commit: %w", err))
	}

	return updated, nil
}

// CheckScope reports whether the job's resolved assignee still belongs to
// its location roster. It returns ErrOutOfScope as an advisory and never
// blocks a read; any other error is a lookup failure.
func (s *Service) CheckScope(ctx context.Context, j job.Job) error {
	assignee := j.CanonicalAssignee()
	if assignee == "" {
		return nil
	}
	if j.LocationID == nil {
		return fmt.Errorf("%w: job has no location", ErrOutOfScope)
	}
	ok, err := s.roster.RosterContains(ctx, *j.LocationID, assignee)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: employee %s, location %s", ErrOutOfScope, assignee, *j.LocationID)
	}
	return nil
}
