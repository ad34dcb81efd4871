package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"roadflow/auth"
)

func newCaller(role auth.Role, userID string, providerID *string) auth.CallerContext {
	return auth.CallerContext{UserID: userID, Role: role, ProviderID: providerID}
}

func TestTransition_ProviderForwardPath(t *testing.T) {
	pid := "prov-1"
	repo := newFakeJobRepo(Job{
		ID:         "job-1",
		Status:     StatusAssigned,
		ProviderID: &pid,
	})
	pool := &fakePool{}
	svc := NewStatusService(pool, repo)

	caller := newCaller(auth.RoleDispatcher, "user-d", &pid)
	updated, err := svc.Transition(context.Background(), caller, "job-1", StatusEnroute)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != StatusEnroute {
		t.Fatalf("expected status enroute, got %s", updated.Status)
	}
	if !pool.tx.committed {
		t.Error("expected transaction commit")
	}
	if updated.EnrouteAt == nil {
		t.Error("expected enroute_at to be stamped")
	}
}

func TestTransition_IdempotentReplay(t *testing.T) {
	pid := "prov-1"
	stamped := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	repo := newFakeJobRepo(Job{
		ID:         "job-1",
		Status:     StatusEnroute,
		ProviderID: &pid,
		EnrouteAt:  &stamped,
	})
	pool := &fakePool{}
	svc := NewStatusService(pool, repo)

	caller := newCaller(auth.RoleDispatcher, "user-d", &pid)
	replayed, err := svc.Transition(context.Background(), caller, "job-1", StatusEnroute)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.EnrouteAt == nil || !replayed.EnrouteAt.Equal(stamped) {
		t.Fatalf("replay must not alter the existing timestamp, got %v", replayed.EnrouteAt)
	}
	if repo.updates != 0 {
		t.Fatalf("replay must not write, got %d updates", repo.updates)
	}
	if pool.tx.committed {
		t.Error("replay must not commit a write")
	}
}

func TestTransition_ReplayRequiresStanding(t *testing.T) {
	pid := "prov-1"
	uid := "cust-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusEnroute, ProviderID: &pid, CustomerUID: &uid})
	svc := NewStatusService(&fakePool{}, repo)

	foreign := "prov-2"
	stranger := newCaller(auth.RoleDispatcher, "user-x", &foreign)
	if _, err := svc.Transition(context.Background(), stranger, "job-1", StatusEnroute); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden replaying someone else's job, got %v", err)
	}

	owner := newCaller(auth.RoleCustomer, uid, nil)
	replayed, err := svc.Transition(context.Background(), owner, "job-1", StatusEnroute)
	if err != nil {
		t.Fatalf("owner replay: %v", err)
	}
	if replayed.Status != StatusEnroute {
		t.Fatalf("replay returned status %s", replayed.Status)
	}
	if repo.updates != 0 {
		t.Error("replay must not write")
	}
}

func TestTransition_ConfirmRequiresProvider(t *testing.T) {
	uid := "cust-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusPendingCustomer, CustomerUID: &uid})
	svc := NewStatusService(&fakePool{}, repo)

	owner := newCaller(auth.RoleCustomer, uid, nil)
	if _, err := svc.Transition(context.Background(), owner, "job-1", StatusAccepted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition confirming without a provider, got %v", err)
	}
	if repo.updates != 0 {
		t.Error("refused confirmation must leave the job unchanged")
	}

	pid := "prov-1"
	repo = newFakeJobRepo(Job{ID: "job-1", Status: StatusPendingCustomer, CustomerUID: &uid, ProviderID: &pid})
	svc = NewStatusService(&fakePool{}, repo)
	confirmed, err := svc.Transition(context.Background(), owner, "job-1", StatusAccepted)
	if err != nil {
		t.Fatalf("confirm with provider on record: %v", err)
	}
	if confirmed.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", confirmed.Status)
	}
}

func TestTransition_OutOfOrderRejected(t *testing.T) {
	pid := "prov-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusOpen, ProviderID: &pid})
	svc := NewStatusService(&fakePool{}, repo)

	caller := newCaller(auth.RoleProviderAdmin, "user-p", &pid)
	_, err := svc.Transition(context.Background(), caller, "job-1", StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.updates != 0 {
		t.Error("rejected transition must leave the job unchanged")
	}
}

func TestTransition_TechPermissions(t *testing.T) {
	pid := "prov-1"
	techID := "tech-7"
	base := Job{
		ID:                   "job-1",
		Status:               StatusAssigned,
		ProviderID:           &pid,
		AssignedTechnicianID: &techID,
	}

	// Assigned tech may go enroute.
	repo := newFakeJobRepo(base)
	svc := NewStatusService(&fakePool{}, repo)
	tech := newCaller(auth.RoleTech, techID, &pid)
	if _, err := svc.Transition(context.Background(), tech, "job-1", StatusEnroute); err != nil {
		t.Fatalf("assigned tech enroute: %v", err)
	}

	// A different tech is forbidden.
	repo = newFakeJobRepo(base)
	svc = NewStatusService(&fakePool{}, repo)
	stranger := newCaller(auth.RoleTech, "tech-other", &pid)
	if _, err := svc.Transition(context.Background(), stranger, "job-1", StatusEnroute); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign tech, got %v", err)
	}

	// Techs may not drive acceptance or assignment.
	accepted := base
	accepted.Status = StatusAccepted
	repo = newFakeJobRepo(accepted)
	svc = NewStatusService(&fakePool{}, repo)
	if _, err := svc.Transition(context.Background(), tech, "job-1", StatusAssigned); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for tech assignment, got %v", err)
	}

	// Tech resolved through a legacy alias field still counts.
	aliased := Job{ID: "job-1", Status: StatusAssigned, ProviderID: &pid, AssignedToUID: &techID}
	repo = newFakeJobRepo(aliased)
	svc = NewStatusService(&fakePool{}, repo)
	if _, err := svc.Transition(context.Background(), tech, "job-1", StatusEnroute); err != nil {
		t.Fatalf("legacy-aliased tech enroute: %v", err)
	}
}

func TestTransition_CustomerCancelOnlyOwnBiddableJob(t *testing.T) {
	uid := "cust-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusOpen, CustomerUID: &uid})
	svc := NewStatusService(&fakePool{}, repo)

	owner := newCaller(auth.RoleCustomer, uid, nil)
	if _, err := svc.Transition(context.Background(), owner, "job-1", StatusCancelled); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}

	repo = newFakeJobRepo(Job{ID: "job-1", Status: StatusOpen, CustomerUID: &uid})
	svc = NewStatusService(&fakePool{}, repo)
	other := newCaller(auth.RoleCustomer, "cust-2", nil)
	if _, err := svc.Transition(context.Background(), other, "job-1", StatusCancelled); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign customer, got %v", err)
	}

	pid := "prov-1"
	repo = newFakeJobRepo(Job{ID: "job-1", Status: StatusEnroute, CustomerUID: &uid, ProviderID: &pid})
	svc = NewStatusService(&fakePool{}, repo)
	if _, err := svc.Transition(context.Background(), owner, "job-1", StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition cancelling an enroute job, got %v", err)
	}
}

func TestTransition_AssignRequiresProvider(t *testing.T) {
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusAccepted})
	svc := NewStatusService(&fakePool{}, repo)

	caller := newCaller(auth.RoleGlobalDispatch, "user-g", nil)
	_, err := svc.Transition(context.Background(), caller, "job-1", StatusAssigned)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition without a provider, got %v", err)
	}
}

func TestTransition_NotifierReceivesCommittedJob(t *testing.T) {
	pid := "prov-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusAssigned, ProviderID: &pid})
	n := &recordingNotifier{}
	svc := NewStatusService(&fakePool{}, repo).WithNotifier(n)

	caller := newCaller(auth.RoleDispatcher, "user-d", &pid)
	if _, err := svc.Transition(context.Background(), caller, "job-1", StatusEnroute); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(n.seen) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.seen))
	}
	if n.seen[0].Status != StatusEnroute {
		t.Fatalf("notifier saw status %s", n.seen[0].Status)
	}
}

func TestTransition_ForbiddenSkipsNotifier(t *testing.T) {
	pid := "prov-1"
	repo := newFakeJobRepo(Job{ID: "job-1", Status: StatusAssigned, ProviderID: &pid})
	n := &recordingNotifier{}
	svc := NewStatusService(&fakePool{}, repo).WithNotifier(n)

	foreign := "prov-2"
	caller := newCaller(auth.RoleDispatcher, "user-d", &foreign)
	if _, err := svc.Transition(context.Background(), caller, "job-1", StatusEnroute); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(n.seen) != 0 {
		t.Error("failed transition must not notify")
	}
}

func TestCreate_RolesPickInitialStatus(t *testing.T) {
	repo := newFakeJobRepo(Job{})
	svc := NewService(&fakePool{}, repo).WithIDGenerator(func() string { return "job-fixed" })

	params := CreateParams{IssueKind: "flat_tire", PickupAddress: "101 Main St"}

	created, err := svc.Create(context.Background(), newCaller(auth.RoleCustomer, "cust-1", nil), params)
	if err != nil {
		t.Fatalf("customer create: %v", err)
	}
	if created.Status != StatusOpen {
		t.Fatalf("customer job should open as %s, got %s", StatusOpen, created.Status)
	}
	if created.CustomerUID == nil || *created.CustomerUID != "cust-1" {
		t.Fatal("customer job must bind the creator identity")
	}

	pid := "prov-1"
	created, err = svc.Create(context.Background(), newCaller(auth.RoleDispatcher, "disp-1", &pid), params)
	if err != nil {
		t.Fatalf("dispatcher create: %v", err)
	}
	if created.Status != StatusUnclaimed {
		t.Fatalf("dispatcher job should open as %s, got %s", StatusUnclaimed, created.Status)
	}
	if created.CustomerUID != nil {
		t.Fatal("dispatcher job must start without a customer identity")
	}
	if created.ProviderID == nil || *created.ProviderID != pid {
		t.Fatal("dispatcher job must carry the dispatcher's provider")
	}

	if _, err := svc.Create(context.Background(), newCaller(auth.RoleTech, "tech-1", &pid), params); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for tech create, got %v", err)
	}
}

type recordingNotifier struct {
	seen []Job
}

func (r *recordingNotifier) JobStatusChanged(_ context.Context, j Job) {
	r.seen = append(r.seen, j)
}

// fakeJobRepo keeps a single in-memory job and mimics the repository's
// timestamp stamping.
type fakeJobRepo struct {
	job     Job
	updates int
}

func newFakeJobRepo(j Job) *fakeJobRepo {
	return &fakeJobRepo{job: j}
}

func (f *fakeJobRepo) Create(_ context.Context, _ pgx.Tx, j Job) (Job, error) {
	f.job = j
	now := time.Now().UTC()
	f.job.CreatedAt = now
	f.job.UpdatedAt = now
	return f.job, nil
}

func (f *fakeJobRepo) Get(_ context.Context, id string) (Job, error) {
	if f.job.ID != id {
		return Job{}, ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Job, error) {
	if f.job.ID != id {
		return Job{}, ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, next Status) (Job, error) {
	if f.job.ID != id {
		return Job{}, ErrNotFound
	}
	f.updates++
	f.job.Status = next
	now := time.Now().UTC()
	stamp := func(t **time.Time) {
		if *t == nil {
			*t = &now
		}
	}
	switch next {
	case StatusAssigned:
		stamp(&f.job.AssignedAt)
	case StatusEnroute:
		stamp(&f.job.EnrouteAt)
	case StatusOnSite:
		stamp(&f.job.OnSiteAt)
	case StatusInProgress:
		stamp(&f.job.InProgressAt)
	case StatusCompleted:
		stamp(&f.job.CompletedAt)
	case StatusCancelled:
		stamp(&f.job.CancelledAt)
	}
	f.job.UpdatedAt = now
	return f.job, nil
}

func (f *fakeJobRepo) List(_ context.Context, _ Filters) ([]Job, int, error) {
	return []Job{f.job}, 1, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
