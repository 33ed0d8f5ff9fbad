package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecgard/roster/internal/profile"
)

const profileColumns = `id, org_id, role, display_name, first_name, last_name, email, phone`

// scanProfile scans a profile row; org_id may be NULL.
func scanProfile(scan func(dest ...any) error) (*profile.Profile, error) {
	p := &profile.Profile{}
	err := scan(&p.ID, &p.OrgID, &p.Role, &p.DisplayName, &p.FirstName, &p.LastName, &p.Email, &p.Phone)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func getProfile(ctx context.Context, q querier, id string) (*profile.Profile, error) {
	p, err := scanProfile(func(dest ...any) error {
		return q.QueryRow(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", classify(err))
	}
	return p, nil
}

// GetProfile retrieves the profile owned by identity id. A missing row is
// reported as pgx.ErrNoRows.
func (s *Store) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	return getProfile(ctx, s.pool, id)
}

// CreateProfile registers the profile for identity id. Repeating the call
// overwrites the names and email but keeps organization and role.
func (s *Store) CreateProfile(ctx context.Context, id string, in profile.CreateInput) (*profile.Profile, error) {
	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO profiles (id, role, display_name, first_name, last_name, email)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET display_name = EXCLUDED.display_name, first_name = EXCLUDED.first_name,
			     last_name = EXCLUDED.last_name, email = EXCLUDED.email, updated_at = now()
			 RETURNING `+profileColumns,
			id, profile.DefaultRole, in.DisplayName(),
			strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName), strings.TrimSpace(in.Email),
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", classify(err))
	}
	return p, nil
}

// AttachOrganization links profile id to orgID with role. The organization
// must exist; a missing one fails the foreign key and maps to 409.
func (s *Store) AttachOrganization(ctx context.Context, id, orgID, role string) (*profile.Profile, error) {
	if role == "" {
		role = profile.DefaultRole
	}
	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE profiles SET org_id = $2, role = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING `+profileColumns,
			id, orgID, role,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("attaching organization: %w", classify(err))
	}
	return p, nil
}

// CreateOrganization inserts a new organization created by identity createdBy.
func (s *Store) CreateOrganization(ctx context.Context, name, createdBy string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	org := &Organization{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (name, created_by) VALUES ($1, $2)
		 RETURNING id, name, created_by, created_at`,
		name, createdBy,
	).Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating organization: %w", classify(err))
	}
	return org, nil
}
