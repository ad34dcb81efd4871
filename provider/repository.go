package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested provider does not exist.
	ErrNotFound = errors.New("provider: not found")
	// ErrLocationNotFound signals the requested location does not exist.
	ErrLocationNotFound = errors.New("provider: location not found")
)

// Repository provides read access to provider profiles, locations, and rosters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a provider profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, name, phone, verified, created_at
		FROM providers
		WHERE id = $1
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.Name,
		&profile.Phone,
		&profile.Verified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("provider: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit provider profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, phone, verified, created_at
		FROM providers
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("provider: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.Name, &profile.Phone, &profile.Verified, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("provider: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterate profiles: %w", err)
	}

	return profiles, nil
}

// GetLocation fetches a single location by ID.
func (r *Repository) GetLocation(ctx context.Context, id string) (Location, error) {
	const query = `
		SELECT id, provider_id, name, address_line, city, state, postal_code, created_at
		FROM locations
		WHERE id = $1
	`

	var loc Location
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&loc.ID,
		&loc.ProviderID,
		&loc.Name,
		&loc.AddressLine,
		&loc.City,
		&loc.State,
		&loc.PostalCode,
		&loc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, fmt.Errorf("provider: query location: %w", err)
	}

	return loc, nil
}

// RosterContains reports whether the employee appears on the location's roster.
func (r *Repository) RosterContains(ctx context.Context, locationID, employeeID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM location_employees
			WHERE location_id = $1 AND employee_id = $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, locationID, employeeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("provider: roster contains: %w", err)
	}
	return exists, nil
}

// Roster lists the employees assigned to a location.
func (r *Repository) Roster(ctx context.Context, locationID string) ([]RosterEntry, error) {
	const query = `
		SELECT employee_id, role
		FROM location_employees
		WHERE location_id = $1
		ORDER BY employee_id ASC
	`

	rows, err := r.pool.Query(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("provider: roster: %w", err)
	}
	defer rows.Close()

	entries := make([]RosterEntry, 0, 8)
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.EmployeeID, &e.Role); err != nil {
			return nil, fmt.Errorf("provider: scan roster entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterate roster: %w", err)
	}

	return entries, nil
}
