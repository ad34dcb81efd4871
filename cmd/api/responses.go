package main

import (
	"time"

	"roadflow/auth"
	"roadflow/bid"
	"roadflow/job"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	FullName   string  `json:"fullName"`
	Phone      *string `json:"phone,omitempty"`
	Role       string  `json:"role"`
	ProviderID *string `json:"providerId,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type createJobRequest struct {
	IssueKind      string  `json:"issueKind"`
	PickupAddress  string  `json:"pickupAddress"`
	DropoffAddress *string `json:"dropoffAddress,omitempty"`
	ContactPhone   *string `json:"contactPhone,omitempty"`
	LocationID     *string `json:"locationId,omitempty"`
}

type jobResponse struct {
	ID             string  `json:"id"`
	IssueKind      string  `json:"issueKind"`
	Status         string  `json:"status"`
	CustomerUID    *string `json:"customerUid,omitempty"`
	ProviderID     *string `json:"providerId,omitempty"`
	LocationID     *string `json:"locationId,omitempty"`
	AcceptedBidID  *string `json:"acceptedBidId,omitempty"`
	Assignee       *string `json:"assignee,omitempty"`
	PickupAddress  string  `json:"pickupAddress"`
	DropoffAddress *string `json:"dropoffAddress,omitempty"`
	AssignedAt     *string `json:"assignedAt,omitempty"`
	EnrouteAt      *string `json:"enrouteAt,omitempty"`
	OnSiteAt       *string `json:"onSiteAt,omitempty"`
	InProgressAt   *string `json:"inProgressAt,omitempty"`
	CompletedAt    *string `json:"completedAt,omitempty"`
	CancelledAt    *string `json:"cancelledAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

type placeBidRequest struct {
	Amount     int64   `json:"amount"`
	ETAMinutes *int    `json:"etaMinutes,omitempty"`
	Message    *string `json:"message,omitempty"`
}

type counterRequest struct {
	Amount     int64   `json:"amount"`
	ETAMinutes *int    `json:"etaMinutes,omitempty"`
	Message    *string `json:"message,omitempty"`
}

type bidResponse struct {
	ID            string  `json:"id"`
	JobID         string  `json:"jobId"`
	ProviderID    string  `json:"providerId"`
	Amount        int64   `json:"amount"`
	ETAMinutes    *int    `json:"etaMinutes,omitempty"`
	Message       *string `json:"message,omitempty"`
	Status        string  `json:"status"`
	CounterAmount *int64  `json:"counterAmount,omitempty"`
	CounterStatus *string `json:"counterStatus,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

type acceptResponse struct {
	Bid bidResponse `json:"bid"`
	Job jobResponse `json:"job"`
}

type claimTokenResponse struct {
	JobID     string `json:"jobId"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

type providerResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"createdAt"`
}

type rosterEntryResponse struct {
	EmployeeID string `json:"employeeId"`
	Role       string `json:"role"`
}

type locationResponse struct {
	ID          string                `json:"id"`
	ProviderID  string                `json:"providerId"`
	Name        string                `json:"name"`
	AddressLine string                `json:"addressLine"`
	City        string                `json:"city"`
	State       string                `json:"state"`
	PostalCode  string                `json:"postalCode"`
	Roster      []rosterEntryResponse `json:"roster"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Phone:      u.Phone,
		Role:       string(u.Role),
		ProviderID: u.ProviderID,
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toJobResponse(j job.Job) jobResponse {
	resp := jobResponse{
		ID:             j.ID,
		IssueKind:      j.IssueKind,
		Status:         string(j.Status),
		CustomerUID:    j.CustomerUID,
		ProviderID:     j.ProviderID,
		LocationID:     j.LocationID,
		AcceptedBidID:  j.AcceptedBidID,
		PickupAddress:  j.PickupAddress,
		DropoffAddress: j.DropoffAddress,
		AssignedAt:     formatTime(j.AssignedAt),
		EnrouteAt:      formatTime(j.EnrouteAt),
		OnSiteAt:       formatTime(j.OnSiteAt),
		InProgressAt:   formatTime(j.InProgressAt),
		CompletedAt:    formatTime(j.CompletedAt),
		CancelledAt:    formatTime(j.CancelledAt),
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if assignee := j.CanonicalAssignee(); assignee != "" {
		resp.Assignee = &assignee
	}
	return resp
}

func toBidResponse(b bid.Bid) bidResponse {
	resp := bidResponse{
		ID:            b.ID,
		JobID:         b.JobID,
		ProviderID:    b.ProviderID,
		Amount:        b.Amount,
		ETAMinutes:    b.ETAMinutes,
		Message:       b.Message,
		Status:        string(b.BidStatus),
		CounterAmount: b.CounterAmount,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if b.CounterStatus != nil {
		cs := string(*b.CounterStatus)
		resp.CounterStatus = &cs
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
