// -----------------------------------------------------------------------
// Object Store - typed record persistence over the row store
// -----------------------------------------------------------------------

package data

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/codec"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

// ObjectStore persists domain records through the codec into one
// uuid-keyed table partitioned by type tag.
type ObjectStore struct {
	table  *sqlite.Table
	codec  *codec.Codec
	logger arbor.ILogger
}

// NewObjectStore wires a table and codec together.
func NewObjectStore(table *sqlite.Table, c *codec.Codec, logger arbor.ILogger) *ObjectStore {
	return &ObjectStore{
		table:  table,
		codec:  c,
		logger: logger,
	}
}

// Table exposes the underlying row store table.
func (s *ObjectStore) Table() *sqlite.Table {
	return s.table
}

// Save inserts the record when it has never been persisted (ver 0) and
// otherwise updates it under its (id, ver). The record's version is
// advanced in place on success.
func (s *ObjectStore) Save(ctx context.Context, q sqlite.Queryer, rec models.Record, tags map[string]string) error {
	if rec.GetID().IsZero() {
		rec.SetID(models.NewID())
	}

	row, err := s.codec.Encode(rec, tags)
	if err != nil {
		return err
	}

	if rec.GetVer() == 0 {
		inserted, err := s.table.Insert(ctx, q, []sqlite.Row{row})
		if err != nil {
			return err
		}
		rec.SetVer(inserted[0].Ver)
	} else {
		updated, err := s.table.Update(ctx, q, []sqlite.Row{row}, false)
		if err != nil {
			return err
		}
		rec.SetVer(updated[0].Ver)
	}

	return nil
}

// GetByID loads one record, returning nil when absent.
func (s *ObjectStore) GetByID(ctx context.Context, q sqlite.Queryer, id models.ID) (models.Record, map[string]string, error) {
	row, err := s.table.SelectOne(ctx, q, sqlite.RowID{UUID: id.UUID()}, sqlite.ColAll)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, nil
	}
	return s.codec.Decode(*row)
}

// GetAllOfType loads every record stored under the given type tag.
func (s *ObjectStore) GetAllOfType(ctx context.Context, q sqlite.Queryer, typeTag string) ([]models.Record, error) {
	rows, err := s.table.SelectWhereDSmallIn(ctx, q, []string{typeTag}, sqlite.ColAll)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, _, err := s.codec.Decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes the record, matching on (id, ver). A record whose row is
// already gone is a no-op.
func (s *ObjectStore) Delete(ctx context.Context, q sqlite.Queryer, rec models.Record) error {
	row := sqlite.Row{
		ID:  sqlite.RowID{UUID: rec.GetID().UUID()},
		Ver: rec.GetVer(),
	}
	return s.table.Delete(ctx, q, []sqlite.Row{row})
}

// GetAll is the typed form of GetAllOfType for one record variant.
func GetAll[T models.Record](ctx context.Context, s *ObjectStore, q sqlite.Queryer, zero T) ([]T, error) {
	recs, err := s.GetAllOfType(ctx, q, zero.TypeTag())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		typed, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T under tag %s", rec, zero.TypeTag())
		}
		out = append(out, typed)
	}
	return out, nil
}
