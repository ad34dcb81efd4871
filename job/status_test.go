package job

import "testing"

func TestCanTransition_ForwardChain(t *testing.T) {
	chain := []Status{StatusAssigned, StatusEnroute, StatusOnSite, StatusInProgress, StatusCompleted}
	from := StatusAccepted
	for _, next := range chain {
		if !CanTransition(from, next) {
			t.Fatalf("expected %s -> %s to be allowed", from, next)
		}
		from = next
	}
}

func TestCanTransition_RejectsSkips(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusOpen, StatusCompleted},
		{StatusOpen, StatusEnroute},
		{StatusAssigned, StatusOnSite},
		{StatusAssigned, StatusCompleted},
		{StatusEnroute, StatusCompleted},
		{StatusCompleted, StatusInProgress},
		{StatusCancelled, StatusOpen},
		{StatusAccepted, StatusBidding},
		{StatusEnroute, StatusAssigned},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestCanTransition_CancelOnlyWhileBiddable(t *testing.T) {
	for _, from := range []Status{StatusUnclaimed, StatusOpen, StatusBidding} {
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("expected cancel from %s to be allowed", from)
		}
	}
	for _, from := range []Status{StatusAccepted, StatusAssigned, StatusEnroute, StatusOnSite, StatusInProgress, StatusCompleted} {
		if CanTransition(from, StatusCancelled) {
			t.Errorf("expected cancel from %s to be rejected", from)
		}
	}
}

func TestCanTransition_TwoPhaseHandshake(t *testing.T) {
	if !CanTransition(StatusBidding, StatusPendingProvider) {
		t.Error("expected bidding -> pending_provider_confirmation")
	}
	if !CanTransition(StatusPendingProvider, StatusPendingCustomer) {
		t.Error("expected pending_provider_confirmation -> pending_customer_confirmation")
	}
	if !CanTransition(StatusPendingCustomer, StatusAccepted) {
		t.Error("expected pending_customer_confirmation -> accepted")
	}
	// The direct path still exists alongside the handshake.
	if !CanTransition(StatusBidding, StatusAccepted) {
		t.Error("expected bidding -> accepted")
	}
}

func TestBiddable(t *testing.T) {
	for _, s := range []Status{StatusUnclaimed, StatusOpen, StatusBidding} {
		if !Biddable(s) {
			t.Errorf("expected %s to be biddable", s)
		}
	}
	for _, s := range []Status{StatusAccepted, StatusAssigned, StatusEnroute, StatusCompleted, StatusCancelled} {
		if Biddable(s) {
			t.Errorf("expected %s to not be biddable", s)
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for to := range transitions {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
}

func TestCanonicalAssignee_Precedence(t *testing.T) {
	s := func(v string) *string { return &v }
	empty := ""

	cases := []struct {
		name string
		j    Job
		want string
	}{
		{"canonical wins", Job{AssignedTechnicianID: s("canon"), AssignedTo: s("legacy1"), AssignedToUID: s("legacy2")}, "canon"},
		{"first alias", Job{AssignedTo: s("legacy1"), AssignedToUID: s("legacy2")}, "legacy1"},
		{"second alias", Job{AssignedToUID: s("legacy2"), AssignedEmployeeUID: s("legacy3")}, "legacy2"},
		{"third alias", Job{AssignedEmployeeUID: s("legacy3")}, "legacy3"},
		{"empty string skipped", Job{AssignedTechnicianID: &empty, AssignedTo: s("legacy1")}, "legacy1"},
		{"nothing set", Job{}, ""},
	}

	for _, c := range cases {
		if got := c.j.CanonicalAssignee(); got != c.want {
			t.Errorf("%s: expected %q got %q", c.name, c.want, got)
		}
	}
}
