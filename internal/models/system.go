package models

import (
	"strings"
	"time"
)

// System is the root context every other entity references directly or
// transitively. Exactly one System row exists.
type System struct {
	Meta
	Name      string    `json:"name"`
	CreatedOn time.Time `json:"createdOn"`
}

// NewSystem creates the root system record.
func NewSystem(name string) *System {
	return &System{
		Meta:      Meta{ID: NewID()},
		Name:      strings.TrimSpace(name),
		CreatedOn: time.Now().UTC(),
	}
}

func (s *System) TypeTag() string {
	return "jezel.model.System"
}

func (s *System) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", s.ID)
	errs = requireNonEmpty(errs, "name", s.Name)
	return errs
}
