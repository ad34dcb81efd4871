package bid

import "time"

// BidStatus tracks the customer's verdict on a provider's offer.
type BidStatus string

const (
	StatusPlaced             BidStatus = "placed"
	StatusAcceptedByCustomer BidStatus = "accepted_by_customer"
	StatusRejectedByCustomer BidStatus = "rejected_by_customer"
)

// CounterStatus tracks the provider's verdict on a customer counter-offer.
// Counter fields are only meaningful while the status is
// CounterPending.
type CounterStatus string

const (
	CounterPending  CounterStatus = "countered_by_customer"
	CounterAccepted CounterStatus = "counter_accepted_by_provider"
	CounterRejected CounterStatus = "counter_rejected_by_provider"
)

// Decision is the provider's answer to a pending counter-offer.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Bid is a provider's priced, timed offer against a job. One bid exists per
// provider per job; re-placing overwrites it.
type Bid struct {
	ID                string
	JobID             string
	ProviderID        string
	Amount            int64
	ETAMinutes        *int
	Message           *string
	BidStatus         BidStatus
	CounterAmount     *int64
	CounterETAMinutes *int
	CounterMessage    *string
	CounterStatus     *CounterStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PlaceParams enumerates the provider-supplied fields of an offer.
type PlaceParams struct {
	JobID      string
	Amount     int64
	ETAMinutes *int
	Message    *string
}

// CounterParams enumerates the customer-supplied fields of a counter-offer.
type CounterParams struct {
	JobID             string
	BidID             string
	CounterAmount     int64
	CounterETAMinutes *int
	CounterMessage    *string
}
