package profile

import "strings"

// Profile is the user record an identity owns. ID equals the session owner.
// A nil OrgID means the user registered but has not joined an organization.
type Profile struct {
	ID          string  `json:"id"`
	OrgID       *string `json:"org_id"`
	Role        string  `json:"role"`
	DisplayName string  `json:"display_name"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
}

// HasOrganization reports whether the profile is attached to an organization.
func (p *Profile) HasOrganization() bool {
	return p != nil && p.OrgID != nil && *p.OrgID != ""
}

// Clone returns a deep copy so callers can hand profiles out without sharing OrgID.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.OrgID != nil {
		org := *p.OrgID
		cp.OrgID = &org
	}
	return &cp
}

// CreateInput holds the fields supplied when an identity registers its profile.
type CreateInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// DisplayName joins first and last name the way the profile row stores it.
func (in CreateInput) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(in.FirstName) + " " + strings.TrimSpace(in.LastName))
}

// DefaultRole is assigned to profiles that have not been given one by an organization.
const DefaultRole = "member"
