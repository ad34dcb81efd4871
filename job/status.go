package job

import "roadflow/auth"

// transitions lists the allowed edges of the job lifecycle. Cancellation is
// deliberately restricted to the biddable states: once a provider has been
// accepted the job can only run forward.
var transitions = map[Status][]Status{
	StatusUnclaimed:       {StatusOpen, StatusCancelled},
	StatusOpen:            {StatusBidding, StatusAccepted, StatusCancelled},
	StatusBidding:         {StatusAccepted, StatusPendingProvider, StatusCancelled},
	StatusPendingProvider: {StatusPendingCustomer},
	StatusPendingCustomer: {StatusAccepted},
	StatusAccepted:        {StatusAssigned},
	StatusAssigned:        {StatusEnroute},
	StatusEnroute:         {StatusOnSite},
	StatusOnSite:          {StatusInProgress},
	StatusInProgress:      {StatusCompleted},
	StatusCompleted:       nil,
	StatusCancelled:       nil,
}

// techStatuses is the subset of transitions an assigned technician may
// apply. Assignment and acceptance stay with dispatch.
var techStatuses = map[Status]bool{
	StatusEnroute:    true,
	StatusOnSite:     true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

// notifyStatuses is the set of statuses whose arrival triggers a customer
// SMS, at most once per distinct value.
var notifyStatuses = map[Status]bool{
	StatusAssigned:   true,
	StatusEnroute:    true,
	StatusOnSite:     true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

// ValidStatus reports whether s is a defined lifecycle value.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Biddable reports whether bids may be placed or countered in this state.
func Biddable(s Status) bool {
	return s == StatusUnclaimed || s == StatusOpen || s == StatusBidding
}

// Terminal reports whether the state admits no further transitions.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Notifiable reports whether arriving at s should trigger a notification.
func Notifiable(s Status) bool {
	return notifyStatuses[s]
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TechMayApply reports whether an assigned technician may drive the job to
// the given status.
func TechMayApply(to Status) bool {
	return techStatuses[to]
}

// relatedToJob reports whether the caller has any standing on the job:
// dispatch globally, provider staff on their own provider's jobs, the
// assigned technician, or the owning customer.
func relatedToJob(caller auth.CallerContext, j Job) bool {
	switch caller.Role {
	case auth.RoleGlobalDispatch:
		return true
	case auth.RoleProviderAdmin, auth.RoleDispatcher:
		return caller.MemberOf(j.ProviderID)
	case auth.RoleTech:
		assignee := j.CanonicalAssignee()
		return assignee != "" && assignee == caller.UserID
	case auth.RoleCustomer:
		return j.CustomerUID != nil && *j.CustomerUID == caller.UserID
	default:
		return false
	}
}

// allowedForCaller checks role permission for a concrete transition of a
// concrete job. It assumes the edge itself has already been validated.
func allowedForCaller(caller auth.CallerContext, j Job, next Status) bool {
	switch caller.Role {
	case auth.RoleGlobalDispatch:
		return true
	case auth.RoleProviderAdmin, auth.RoleDispatcher:
		if !caller.MemberOf(j.ProviderID) {
			return false
		}
		// Provider side drives forward transitions only; cancellation
		// belongs to the customer.
		return next != StatusCancelled
	case auth.RoleTech:
		if !TechMayApply(next) {
			return false
		}
		assignee := j.CanonicalAssignee()
		return assignee != "" && assignee == caller.UserID
	case auth.RoleCustomer:
		if j.CustomerUID == nil || *j.CustomerUID != caller.UserID {
			return false
		}
		// Customers cancel, or confirm the two-phase handshake. Acceptance
		// of a bid travels through the bid operations, not here.
		if next == StatusCancelled {
			return true
		}
		return j.Status == StatusPendingCustomer && next == StatusAccepted
	default:
		return false
	}
}
