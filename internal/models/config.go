package models

import (
	"strings"
	"time"
)

// Config is a named configuration value stored alongside the entities
// that reference it.
type Config struct {
	Meta
	SystemID   ID        `json:"systemId"`
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	Tags       []Tag     `json:"tags,omitempty"`
	CreatedOn  time.Time `json:"createdOn"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// NewConfig creates a configuration entry.
func NewConfig(systemID ID, name, value string) *Config {
	now := time.Now().UTC()
	return &Config{
		Meta:       Meta{ID: NewID()},
		SystemID:   systemID,
		Name:       trimCasefold(name),
		Value:      value,
		CreatedOn:  now,
		ModifiedOn: now,
	}
}

func (c *Config) TypeTag() string {
	return "jezel.model.Config"
}

// Normalize casefolds the name and collapses tags.
func (c *Config) Normalize() {
	c.Name = trimCasefold(c.Name)
	c.Value = strings.TrimSpace(c.Value)
	c.Tags = NormalizeTags(c.Tags)
}

func (c *Config) Validate() []FieldError {
	var errs []FieldError
	errs = requireID(errs, "id", c.ID)
	errs = requireID(errs, "systemId", c.SystemID)
	errs = requireNonEmpty(errs, "name", c.Name)
	return errs
}
