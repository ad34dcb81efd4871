package provider

import "time"

// Profile captures the subset of provider data exposed via the public API layer.
type Profile struct {
	ID        string
	Name      string
	Phone     string
	Verified  bool
	CreatedAt time.Time
}

// Location is a provider's physical operating site with its own roster.
type Location struct {
	ID          string
	ProviderID  string
	Name        string
	AddressLine string
	City        string
	State       string
	PostalCode  string
	CreatedAt   time.Time
}

// RosterEntry links an employee to a location with a role at that site.
type RosterEntry struct {
	EmployeeID string
	Role       string
}
