// -----------------------------------------------------------------------
// Record - common envelope shared by every persisted domain variant
// -----------------------------------------------------------------------

package models

// Record is implemented by every domain variant the store persists.
type Record interface {
	// TypeTag returns the fully qualified logical name used as the row's
	// dsmall value.
	TypeTag() string
	// GetID returns the record identifier.
	GetID() ID
	// SetID assigns the record identifier.
	SetID(ID)
	// GetVer returns the optimistic-concurrency token carried from the row.
	GetVer() int64
	// SetVer assigns the optimistic-concurrency token.
	SetVer(int64)
	// Validate returns the list of constraint violations, empty when valid.
	Validate() []FieldError
}

// Meta carries the id and row version of a record. The version lives on
// the physical row, not in the payload.
type Meta struct {
	ID  ID    `json:"id"`
	Ver int64 `json:"-"`
}

func (m *Meta) GetID() ID      { return m.ID }
func (m *Meta) SetID(id ID)    { m.ID = id }
func (m *Meta) GetVer() int64  { return m.Ver }
func (m *Meta) SetVer(v int64) { m.Ver = v }

// IsNew reports whether the record has never been persisted.
func (m *Meta) IsNew() bool {
	return m.Ver == 0
}
