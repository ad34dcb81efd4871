package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"roadflow/auth"
	"roadflow/job"
)

func dispatcherFor(providerID string) auth.CallerContext {
	return auth.CallerContext{UserID: "disp-1", Role: auth.RoleDispatcher, ProviderID: &providerID}
}

func assignableJob() job.Job {
	prov := "prov-1"
	loc := "loc-1"
	return job.Job{ID: "job-1", Status: job.StatusAccepted, ProviderID: &prov, LocationID: &loc}
}

func newAssignHarness(j job.Job, roster map[string]bool) (*Service, *fakeJobStore) {
	jobs := &fakeJobStore{job: j}
	svc := NewService(&fakePool{}, jobs, fakeRoster(roster))
	return svc, jobs
}

func TestAssignTechnician_SetsAllAssigneeColumns(t *testing.T) {
	svc, jobs := newAssignHarness(assignableJob(), map[string]bool{"loc-1|tech-1": true})

	tech := "tech-1"
	updated, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if updated.CanonicalAssignee() != "tech-1" {
		t.Fatalf("expected canonical assignee tech-1, got %q", updated.CanonicalAssignee())
	}
	if jobs.setCalls != 1 {
		t.Fatalf("expected one write, got %d", jobs.setCalls)
	}

	// Replaying the same assignment writes nothing.
	if _, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if jobs.setCalls != 1 {
		t.Fatalf("replay must not write, got %d writes", jobs.setCalls)
	}
}

func TestAssignTechnician_RejectsNonRosterEmployee(t *testing.T) {
	svc, jobs := newAssignHarness(assignableJob(), map[string]bool{})

	tech := "tech-9"
	_, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech)
	if !errors.Is(err, ErrEmployeeNotInLocation) {
		t.Fatalf("expected ErrEmployeeNotInLocation, got %v", err)
	}
	if jobs.setCalls != 0 {
		t.Fatal("rejected assignment must not write")
	}
}

func TestAssignTechnician_NoLocationMeansNoRoster(t *testing.T) {
	j := assignableJob()
	j.LocationID = nil
	svc, _ := newAssignHarness(j, map[string]bool{"loc-1|tech-1": true})

	tech := "tech-1"
	_, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech)
	if !errors.Is(err, ErrEmployeeNotInLocation) {
		t.Fatalf("expected ErrEmployeeNotInLocation for location-less job, got %v", err)
	}
}

func TestAssignTechnician_LockedOnceEnroute(t *testing.T) {
	for _, status := range []job.Status{job.StatusEnroute, job.StatusOnSite, job.StatusInProgress, job.StatusCompleted, job.StatusCancelled} {
		j := assignableJob()
		j.Status = status
		j.AssignedTechnicianID = strPtr("tech-1")
		svc, _ := newAssignHarness(j, map[string]bool{"loc-1|tech-2": true})

		tech := "tech-2"
		_, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech)
		if !errors.Is(err, ErrAssignmentLocked) {
			t.Fatalf("status %s: expected ErrAssignmentLocked, got %v", status, err)
		}

		// Unassignment is locked too.
		_, err = svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", nil)
		if !errors.Is(err, ErrAssignmentLocked) {
			t.Fatalf("status %s: expected unassign locked, got %v", status, err)
		}
	}
}

func TestAssignTechnician_ForeignDispatcherForbidden(t *testing.T) {
	svc, _ := newAssignHarness(assignableJob(), map[string]bool{"loc-1|tech-1": true})

	tech := "tech-1"
	_, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-2"), "job-1", &tech)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// Global dispatch is never scoped out.
	global := auth.CallerContext{UserID: "g-1", Role: auth.RoleGlobalDispatch}
	if _, err := svc.AssignTechnician(context.Background(), global, "job-1", &tech); err != nil {
		t.Fatalf("global dispatch assign: %v", err)
	}
}

func TestAssignTechnician_Unassign(t *testing.T) {
	j := assignableJob()
	j.AssignedTechnicianID = strPtr("tech-1")
	svc, jobs := newAssignHarness(j, map[string]bool{"loc-1|tech-1": true})

	updated, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", nil)
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if updated.CanonicalAssignee() != "" {
		t.Fatalf("expected cleared assignee, got %q", updated.CanonicalAssignee())
	}

	// Clearing an already-clear job is a replay, not a write.
	if _, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", nil); err != nil {
		t.Fatalf("replay unassign: %v", err)
	}
	if jobs.setCalls != 1 {
		t.Fatalf("expected one write, got %d", jobs.setCalls)
	}
}

func TestAssignTechnician_ResolvesLegacyAliasForReplay(t *testing.T) {
	j := assignableJob()
	j.AssignedToUID = strPtr("tech-1")
	svc, jobs := newAssignHarness(j, map[string]bool{"loc-1|tech-1": true})

	// The alias already names tech-1, so assigning tech-1 is a replay.
	tech := "tech-1"
	if _, err := svc.AssignTechnician(context.Background(), dispatcherFor("prov-1"), "job-1", &tech); err != nil {
		t.Fatalf("replay via alias: %v", err)
	}
	if jobs.setCalls != 0 {
		t.Fatal("alias replay must not write")
	}
}

func TestCheckScope_Advisory(t *testing.T) {
	svc, _ := newAssignHarness(assignableJob(), map[string]bool{"loc-1|tech-1": true})

	j := assignableJob()
	if err := svc.CheckScope(context.Background(), j); err != nil {
		t.Fatalf("unassigned job must be in scope: %v", err)
	}

	j.AssignedTechnicianID = strPtr("tech-1")
	if err := svc.CheckScope(context.Background(), j); err != nil {
		t.Fatalf("rostered assignee must be in scope: %v", err)
	}

	j.AssignedTechnicianID = strPtr("tech-9")
	if err := svc.CheckScope(context.Background(), j); !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("expected ErrOutOfScope, got %v", err)
	}

	j.AssignedTechnicianID = strPtr("tech-1")
	j.LocationID = nil
	if err := svc.CheckScope(context.Background(), j); !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("expected ErrOutOfScope for location-less job, got %v", err)
	}
}

func strPtr(v string) *string { return &v }

type fakeRoster map[string]bool

func (f fakeRoster) RosterContains(_ context.Context, locationID, employeeID string) (bool, error) {
	return f[locationID+"|"+employeeID], nil
}

// fakeJobStore holds one job and counts assignee writes.
type fakeJobStore struct {
	job      job.Job
	setCalls int
}

func (f *fakeJobStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (job.Job, error) {
	if f.job.ID != id {
		return job.Job{}, job.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobStore) SetAssignee(_ context.Context, _ pgx.Tx, jobID string, employeeID *string) (job.Job, error) {
	if f.job.ID != jobID {
		return job.Job{}, job.ErrNotFound
	}
	f.setCalls++
	f.job.AssignedTechnicianID = employeeID
	f.job.AssignedTo = employeeID
	f.job.AssignedToUID = employeeID
	f.job.AssignedEmployeeUID = employeeID
	return f.job, nil
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct{}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error   { return nil }
func (f *fakeTx) Rollback(context.Context) error { return nil }

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
