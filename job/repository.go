package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no job row exists for the given identifier.
var ErrNotFound = errors.New("job: not found")

// Repository defines the data access the job services require.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Job, error)
	List(ctx context.Context, filters Filters) ([]Job, int, error)
}

const jobColumns = `id, issue_kind, status::text, customer_uid, provider_id, location_id, accepted_bid_id,
	assigned_technician_id, assigned_to, assigned_to_uid, assigned_employee_uid,
	pickup_address, dropoff_address, contact_phone, last_notified_status::text,
	assigned_at, enroute_at, on_site_at, in_progress_at, completed_at, cancelled_at,
	created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	query := `
		INSERT INTO jobs (id, issue_kind, status, customer_uid, provider_id, location_id,
			pickup_address, dropoff_address, contact_phone)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3::job_status, $4, $5, $6, $7, $8, $9)
		RETURNING ` + jobColumns

	row := tx.QueryRow(ctx, query,
		j.ID,
		j.IssueKind,
		j.Status,
		j.CustomerUID,
		j.ProviderID,
		j.LocationID,
		j.PickupAddress,
		j.DropoffAddress,
		j.ContactPhone,
	)
	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get for update: %w", err)
	}
	return j, nil
}

// UpdateStatus writes the new status and stamps the matching transition
// timestamp exactly once: a timestamp already set is never overwritten.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Job, error) {
	query := `
		UPDATE jobs
		SET status = $2::job_status,
		    assigned_at    = CASE WHEN $2::job_status = 'assigned'    THEN COALESCE(assigned_at,    get_tx_timestamp()) ELSE assigned_at    END,
		    enroute_at     = CASE WHEN $2::job_status = 'enroute'     THEN COALESCE(enroute_at,     get_tx_timestamp()) ELSE enroute_at     END,
		    on_site_at     = CASE WHEN $2::job_status = 'on_site'     THEN COALESCE(on_site_at,     get_tx_timestamp()) ELSE on_site_at     END,
		    in_progress_at = CASE WHEN $2::job_status = 'in_progress' THEN COALESCE(in_progress_at, get_tx_timestamp()) ELSE in_progress_at END,
		    completed_at   = CASE WHEN $2::job_status = 'completed'   THEN COALESCE(completed_at,   get_tx_timestamp()) ELSE completed_at   END,
		    cancelled_at   = CASE WHEN $2::job_status = 'cancelled'   THEN COALESCE(cancelled_at,   get_tx_timestamp()) ELSE cancelled_at   END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, query, id, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: update status: %w", err)
	}
	return j, nil
}

// SetAccepted projects a customer's bid acceptance onto the job row inside
// the caller's transaction.
func (r *PGRepository) SetAccepted(ctx context.Context, tx pgx.Tx, jobID, providerID, bidID string) (Job, error) {
	query := `
		UPDATE jobs
		SET status = 'accepted'::job_status,
		    provider_id = $2,
		    accepted_bid_id = $3,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, query, jobID, providerID, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: set accepted: %w", err)
	}
	return j, nil
}

// AdvanceToBidding ratchets an open job to bidding. The WHERE guard makes
// the ratchet one-way: the status never regresses and any other state is
// left untouched.
func (r *PGRepository) AdvanceToBidding(ctx context.Context, tx pgx.Tx, jobID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'bidding'::job_status, updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'open'
	`, jobID)
	if err != nil {
		return fmt.Errorf("job: advance to bidding: %w", err)
	}
	return nil
}

// SetAssignee writes the canonical assigned-technician field and mirrors
// the value into the legacy alias columns so mixed-vintage readers agree.
// A nil employeeID unassigns; assigned_at survives an unassign so the
// original dispatch time stays on record.
func (r *PGRepository) SetAssignee(ctx context.Context, tx pgx.Tx, jobID string, employeeID *string) (Job, error) {
	query := `
		UPDATE jobs
		SET assigned_technician_id = $2,
		    assigned_to = $2,
		    assigned_to_uid = $2,
		    assigned_employee_uid = $2,
		    assigned_at = CASE WHEN $2 IS NULL THEN assigned_at ELSE COALESCE(assigned_at, get_tx_timestamp()) END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, query, jobID, employeeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: set assignee: %w", err)
	}
	return j, nil
}

// SetLastNotified records the notification marker, but only while the job
// still sits at the status that was notified.
func (r *PGRepository) SetLastNotified(ctx context.Context, jobID string, status Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET last_notified_status = $2::job_status
		WHERE id = $1 AND status = $2::job_status
	`, jobID, status)
	if err != nil {
		return fmt.Errorf("job: set last notified: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.CustomerUID != "" {
		where = append(where, fmt.Sprintf("customer_uid=$%d", len(args)+1))
		args = append(args, filters.CustomerUID)
	}
	if filters.ProviderID != "" {
		where = append(where, fmt.Sprintf("provider_id=$%d", len(args)+1))
		args = append(args, filters.ProviderID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d::job_status", len(args)+1))
		args = append(args, filters.Status)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		jobColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: query list: %w", err)
	}
	defer rows.Close()

	list := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("job: scan list: %w", err)
		}
		list = append(list, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: iterate list: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM jobs" + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count list: %w", err)
	}

	return list, total, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j            Job
		status       string
		lastNotified *string
	)
	err := row.Scan(
		&j.ID,
		&j.IssueKind,
		&status,
		&j.CustomerUID,
		&j.ProviderID,
		&j.LocationID,
		&j.AcceptedBidID,
		&j.AssignedTechnicianID,
		&j.AssignedTo,
		&j.AssignedToUID,
		&j.AssignedEmployeeUID,
		&j.PickupAddress,
		&j.DropoffAddress,
		&j.ContactPhone,
		&lastNotified,
		&j.AssignedAt,
		&j.EnrouteAt,
		&j.OnSiteAt,
		&j.InProgressAt,
		&j.CompletedAt,
		&j.CancelledAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}

	j.Status = Status(status)
	if lastNotified != nil {
		s := Status(*lastNotified)
		j.LastNotifiedStatus = &s
	}
	return j, nil
}
