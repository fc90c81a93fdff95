package models

import (
	"strings"
	"time"
)

// User is an account within a System. Usernames are stored casefolded and
// compared case-insensitively. At most one user per System has IsSystem
// set; that user cannot be deleted.
type User struct {
	Meta
	SystemID     ID        `json:"systemId"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	PasswordSalt string    `json:"passwordSalt"`
	IsAdmin      bool      `json:"isAdmin"`
	IsActive     bool      `json:"isActive"`
	IsSystem     bool      `json:"isSystem"`
	Email        *string   `json:"email,omitempty"`
	CreatedOn    time.Time `json:"createdOn"`
	ModifiedOn   time.Time `json:"modifiedOn"`
}

// NewUser creates an active non-admin user.
func NewUser(systemID ID, username, passwordHash, passwordSalt string) *User {
	now := time.Now().UTC()
	return &User{
		Meta:         Meta{ID: NewID()},
		SystemID:     systemID,
		Username:     trimCasefold(username),
		PasswordHash: strings.TrimSpace(passwordHash),
		PasswordSalt: strings.TrimSpace(passwordSalt),
		IsActive:     true,
		CreatedOn:    now,
		ModifiedOn:   now,
	}
}

func (u *User) TypeTag() string {
	return "jezel.model.User"
}

// Normalize casefolds the username and trims credential fields.
func (u *User) Normalize() {
	u.Username = trimCasefold(u.Username)
	u.PasswordHash = strings.TrimSpace(u.PasswordHash)
	u.PasswordSalt = strings.TrimSpace(u.PasswordSalt)
	if u.Email != nil {
		e := strings.TrimSpace(*u.Email)
		if e == "" {
			u.Email = nil
		} else {
			u.Email = &e
		}
	}
}

func (u *User) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", u.ID)
	errs = requireID(errs, "systemId", u.SystemID)
	errs = requireNonEmpty(errs, "username", u.Username)
	errs = requireNonEmpty(errs, "passwordHash", u.PasswordHash)
	errs = requireNonEmpty(errs, "passwordSalt", u.PasswordSalt)
	return errs
}
