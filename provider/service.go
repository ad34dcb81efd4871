package provider

import "context"

// DirectoryReader abstracts repository operations for the service.
type DirectoryReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	GetLocation(ctx context.Context, id string) (Location, error)
	Roster(ctx context.Context, locationID string) ([]RosterEntry, error)
}

// Service exposes business-level provider directory operations.
type Service struct {
	repo DirectoryReader
}

// NewService builds a Service using the provided repository.
func NewService(repo DirectoryReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the provider profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit provider profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// GetLocation returns a location by identifier.
func (s *Service) GetLocation(ctx context.Context, id string) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// Roster returns the employee roster for a location.
func (s *Service) Roster(ctx context.Context, locationID string) ([]RosterEntry, error) {
	return s.repo.Roster(ctx, locationID)
}
