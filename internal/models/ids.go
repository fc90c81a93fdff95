package models

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit record identifier. It renders as 32 lowercase hex
// characters on disk and accepts the dashed form on read.
type ID uuid.UUID

// NewID generates a fresh random identifier.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID accepts both the 32-hex and the dashed uuid form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParseID panics on malformed input. For package-level constants only.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the identifier is unassigned.
func (id ID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// UUID returns the underlying uuid value.
func (id ID) UUID() uuid.UUID {
	return uuid.UUID(id)
}

// MarshalText renders the id as 32 hex characters.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses either hex or dashed form.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
