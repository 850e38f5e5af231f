package session

import (
	"fmt"
	"net/url"
	"time"
)

// Role is the application-level authorization tier stored on a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const defaultBusinessName = "Bisnis Baru"

// Profile is the application-level user record derived from a session via a
// lookup against the profiles table.
type Profile struct {
	ID               string
	Name             string
	Email            string
	ProfilePicture   string
	BusinessName     string
	Role             Role
	JoinDate         time.Time
	PhoneNumber      string
	Address          string
	BusinessCategory string
	Website          string
	NIB              string
}

// Patch carries the mutable subset of profile fields for a partial update.
// Nil fields are left untouched server-side. Email is immutable after
// registration and deliberately absent.
type Patch struct {
	Name             *string
	BusinessName     *string
	PhoneNumber      *string
	Address          *string
	BusinessCategory *string
	Website          *string
	ProfilePicture   *string
}

// columns maps the set fields onto profile table columns.
func (p Patch) columns() map[string]any {
	cols := map[string]any{}
	if p.Name != nil {
		cols["full_name"] = *p.Name
	}
	if p.BusinessName != nil {
		cols["business_name"] = *p.BusinessName
	}
	if p.PhoneNumber != nil {
		cols["phone_number"] = *p.PhoneNumber
	}
	if p.Address != nil {
		cols["address"] = *p.Address
	}
	if p.BusinessCategory != nil {
		cols["business_type"] = *p.BusinessCategory
	}
	if p.Website != nil {
		cols["website"] = *p.Website
	}
	if p.ProfilePicture != nil {
		cols["avatar_url"] = *p.ProfilePicture
	}
	return cols
}

// apply merges the set fields into a copy of the profile.
func (p Patch) apply(profile Profile) Profile {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.BusinessName != nil {
		profile.BusinessName = *p.BusinessName
	}
	if p.PhoneNumber != nil {
		profile.PhoneNumber = *p.PhoneNumber
	}
	if p.Address != nil {
		profile.Address = *p.Address
	}
	if p.BusinessCategory != nil {
		profile.BusinessCategory = *p.BusinessCategory
	}
	if p.Website != nil {
		profile.Website = *p.Website
	}
	if p.ProfilePicture != nil {
		profile.ProfilePicture = *p.ProfilePicture
	}
	return profile
}

// profileRow mirrors the profiles table shape returned by the data service.
type profileRow struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	AvatarURL    string    `json:"avatar_url"`
	BusinessName string    `json:"business_name"`
	BusinessType string    `json:"business_type"`
	PhoneNumber  string    `json:"phone_number"`
	Address      string    `json:"address"`
	Website      string    `json:"website"`
	NIB          string    `json:"nib"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// toProfile derives the application profile, filling a generated placeholder
// avatar and a default business name when the stored values are empty.
func (r profileRow) toProfile() Profile {
	avatar := r.AvatarURL
	if avatar == "" {
		avatar = placeholderAvatarURL(r.FullName)
	}
	business := r.BusinessName
	if business == "" {
		business = defaultBusinessName
	}

	return Profile{
		ID:               r.ID,
		Name:             r.FullName,
		Email:            r.Email,
		ProfilePicture:   avatar,
		BusinessName:     business,
		Role:             Role(r.Role),
		JoinDate:         r.CreatedAt,
		PhoneNumber:      r.PhoneNumber,
		Address:          r.Address,
		BusinessCategory: r.BusinessType,
		Website:          r.Website,
		NIB:              r.NIB,
	}
}

func placeholderAvatarURL(name string) string {
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&background=random", url.QueryEscape(name))
}
