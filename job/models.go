package job

import "time"

// Status is the lifecycle state of a service job.
type Status string

const (
	// StatusUnclaimed marks a job created on behalf of a customer who has
	// not signed in yet. It behaves like an open job for bidding purposes
	// and flips to open once a customer claims it.
	StatusUnclaimed Status = "unclaimed"

	StatusOpen            Status = "open"
	StatusBidding         Status = "bidding"
	StatusPendingProvider Status = "pending_provider_confirmation"
	StatusPendingCustomer Status = "pending_customer_confirmation"
	StatusAccepted        Status = "accepted"
	StatusAssigned        Status = "assigned"
	StatusEnroute         Status = "enroute"
	StatusOnSite          Status = "on_site"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Job mirrors the jobs table columns touched by the engine.
//
// The assigned-to identity went through several schema generations;
// AssignedTechnicianID is the canonical field and the three aliases below
// survive only so mixed-vintage rows stay readable. New writes mirror the
// canonical value into all of them.
type Job struct {
	ID                   string
	IssueKind            string
	Status               Status
	CustomerUID          *string
	ProviderID           *string
	LocationID           *string
	AcceptedBidID        *string
	AssignedTechnicianID *string
	AssignedTo           *string
	AssignedToUID        *string
	AssignedEmployeeUID  *string
	PickupAddress        string
	DropoffAddress       *string
	ContactPhone         *string
	LastNotifiedStatus   *Status
	AssignedAt           *time.Time
	EnrouteAt            *time.Time
	OnSiteAt             *time.Time
	InProgressAt         *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CanonicalAssignee resolves the assigned technician identity across the
// historical alias fields: first non-empty value wins, canonical field
// first. Pure; returns "" when the job has no assignee under any vintage.
func (j Job) CanonicalAssignee() string {
	for _, v := range []*string{
		j.AssignedTechnicianID,
		j.AssignedTo,
		j.AssignedToUID,
		j.AssignedEmployeeUID,
	} {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// Filters narrows job listings.
type Filters struct {
	CustomerUID string
	ProviderID  string
	Status      Status
	Page        int
	PageSize    int
}
