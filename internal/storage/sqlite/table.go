// -----------------------------------------------------------------------
// Row Store - five-column table with optimistic versioning
// -----------------------------------------------------------------------

package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

const (
	rowVersionDefault int64 = 1
	rowVersionStep    int64 = 1
)

// IDKind selects how the id column is generated and stored.
type IDKind int

const (
	// IDInteger lets the database assign an auto-incrementing integer id.
	IDInteger IDKind = iota
	// IDUUID stores a client-generated UUID as 32 hex characters.
	IDUUID
)

// RowID identifies a row in either an integer-keyed or uuid-keyed table.
// Only the field matching the table's IDKind is meaningful.
type RowID struct {
	Int  int64
	UUID uuid.UUID
}

// NewRowID generates a fresh uuid-kind identifier.
func NewRowID() RowID {
	return RowID{UUID: uuid.New()}
}

// IsZero reports whether the identifier is unassigned.
func (r RowID) IsZero() bool {
	return r.Int == 0 && r.UUID == uuid.Nil
}

func (r RowID) String() string {
	if r.UUID != uuid.Nil {
		return hex.EncodeToString(r.UUID[:])
	}
	return fmt.Sprintf("%d", r.Int)
}

// Row is the sole physical record: (id, ver, dsmall, dmedium, dlarge).
// A nil payload column means "not selected" on read and "do not touch"
// on update.
type Row struct {
	ID      RowID
	Ver     int64
	DSmall  *string
	DMedium *string
	DLarge  *string
}

// Columns is a bitmask selecting which columns a read returns.
type Columns uint8

const (
	ColID Columns = 1 << iota
	ColVer
	ColDSmall
	ColDMedium
	ColDLarge

	ColAll = ColID | ColVer | ColDSmall | ColDMedium | ColDLarge
)

// Queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Mutating table operations given a nil Queryer open and commit their own
// transaction; a supplied Queryer is neither begun nor committed.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableConfig describes one logical table of the row store.
type TableConfig struct {
	Name         string
	IDKind       IDKind
	IndexDMedium bool
	IndexDLarge  bool
}

// Table exposes the row store operations over one five-column table.
type Table struct {
	db     *DB
	logger arbor.ILogger
	cfg    TableConfig

	mu    sync.Mutex
	stmts map[string]string
}

// NewTable creates a Table handle. Call InitSchema before first use.
func NewTable(db *DB, logger arbor.ILogger, cfg TableConfig) *Table {
	return &Table{
		db:     db,
		logger: logger,
		cfg:    cfg,
		stmts:  make(map[string]string),
	}
}

// Name returns the physical table name.
func (t *Table) Name() string {
	return t.cfg.Name
}

// IDKind returns how ids are generated for this table.
func (t *Table) IDKind() IDKind {
	return t.cfg.IDKind
}

// InitSchema creates the table and its indexes if they do not exist.
func (t *Table) InitSchema(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if t.cfg.IDKind == IDUUID {
		idCol = "id TEXT PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s,
			ver INTEGER NOT NULL,
			dsmall TEXT NOT NULL,
			dmedium TEXT NOT NULL,
			dlarge TEXT NOT NULL
		)`, t.cfg.Name, idCol),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_id_ver ON %s(id, ver)", t.cfg.Name, t.cfg.Name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_%s_dsmall ON %s(dsmall)", t.cfg.Name, t.cfg.Name),
	}
	if t.cfg.IndexDMedium {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_%s_dmedium ON %s(dmedium)", t.cfg.Name, t.cfg.Name))
	}
	if t.cfg.IndexDLarge {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_%s_dlarge ON %s(dlarge)", t.cfg.Name, t.cfg.Name))
	}

	for _, s := range stmts {
		if _, err := t.db.DB().ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to initialize schema for %s: %w", t.cfg.Name, err)
		}
	}

	t.logger.Debug().Str("table", t.cfg.Name).Msg("Table schema initialized")
	return nil
}

// WithTx runs fn inside a single transaction, committing on success.
func (t *Table) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Insert
// -----------------------------------------------------------------------

// Insert writes the given rows and returns them in the same order with id
// and ver populated. Integer-id tables insert row by row so the generated
// id can be read back; uuid-id tables generate missing ids client-side.
// Every inserted row has ver = 1.
func (t *Table) Insert(ctx context.Context, q Queryer, rows []Row) ([]Row, error) {
	var out []Row
	err := t.run(ctx, q, func(q Queryer) error {
		var err error
		out, err = t.insert(ctx, q, rows)
		return err
	})
	return out, err
}

func (t *Table) insert(ctx context.Context, q Queryer, rows []Row) ([]Row, error) {
	out := make([]Row, len(rows))
	copy(out, rows)

	if t.cfg.IDKind == IDInteger {
		stmt := t.stmt("insert", func() string {
			return fmt.Sprintf("INSERT INTO %s (ver, dsmall, dmedium, dlarge) VALUES (?, ?, ?, ?)", t.cfg.Name)
		})
		for i := range out {
			out[i].Ver = rowVersionDefault
			res, err := q.ExecContext(ctx, stmt, out[i].Ver, deref(out[i].DSmall), deref(out[i].DMedium), deref(out[i].DLarge))
			if err != nil {
				return nil, fmt.Errorf("failed to insert into %s: %w", t.cfg.Name, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("failed to read generated id for %s: %w", t.cfg.Name, err)
			}
			out[i].ID = RowID{Int: id}
		}
	} else {
		stmt := t.stmt("insert", func() string {
			return fmt.Sprintf("INSERT INTO %s (id, ver, dsmall, dmedium, dlarge) VALUES (?, ?, ?, ?, ?)", t.cfg.Name)
		})
		for i := range out {
			if out[i].ID.IsZero() {
				out[i].ID = NewRowID()
			}
			out[i].Ver = rowVersionDefault
			_, err := q.ExecContext(ctx, stmt, t.bindID(out[i].ID), out[i].Ver, deref(out[i].DSmall), deref(out[i].DMedium), deref(out[i].DLarge))
			if err != nil {
				return nil, fmt.Errorf("failed to insert into %s: %w", t.cfg.Name, err)
			}
		}
	}

	t.logger.Debug().Str("table", t.cfg.Name).Int("count", len(out)).Msg("Rows inserted")
	return out, nil
}

// -----------------------------------------------------------------------
// Update
// -----------------------------------------------------------------------

// Update rewrites the given rows, matching each on (id, ver) and bumping
// ver by one. Payload columns that are nil are left untouched; when
// fillMissing is true the omitted columns are re-read so the returned rows
// are complete. A zero-row update is discriminated by re-reading the id:
// absent fails NotFound, version mismatch fails Concurrency, anything else
// fails ErrUnknown.
func (t *Table) Update(ctx context.Context, q Queryer, rows []Row, fillMissing bool) ([]Row, error) {
	var out []Row
	err := t.run(ctx, q, func(q Queryer) error {
		var err error
		out, err = t.update(ctx, q, rows, fillMissing)
		return err
	})
	return out, err
}

func (t *Table) update(ctx context.Context, q Queryer, rows []Row, fillMissing bool) ([]Row, error) {
	out := make([]Row, len(rows))
	copy(out, rows)

	for i := range out {
		row := &out[i]
		verNew := row.Ver + rowVersionStep

		key, setCols := updateVariant(row)
		stmt := t.stmt(key, func() string {
			return fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND ver = ?", t.cfg.Name, setCols)
		})

		args := []any{verNew}
		if row.DSmall != nil {
			args = append(args, *row.DSmall)
		}
		if row.DMedium != nil {
			args = append(args, *row.DMedium)
		}
		if row.DLarge != nil {
			args = append(args, *row.DLarge)
		}
		args = append(args, t.bindID(row.ID), row.Ver)

		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", t.cfg.Name, err)
		}
		if err := t.checkMutated(ctx, q, res, "UPDATE", row, false); err != nil {
			return nil, err
		}

		if fillMissing {
			missing := Columns(0)
			if row.DSmall == nil {
				missing |= ColDSmall
			}
			if row.DMedium == nil {
				missing |= ColDMedium
			}
			if row.DLarge == nil {
				missing |= ColDLarge
			}
			if missing != 0 {
				read, err := t.selectOne(ctx, q, row.ID, missing)
				if err != nil {
					return nil, err
				}
				if read != nil {
					if row.DSmall == nil {
						row.DSmall = read.DSmall
					}
					if row.DMedium == nil {
						row.DMedium = read.DMedium
					}
					if row.DLarge == nil {
						row.DLarge = read.DLarge
					}
				}
			}
		}

		row.Ver = verNew
	}

	t.logger.Debug().Str("table", t.cfg.Name).Int("count", len(out)).Msg("Rows updated")
	return out, nil
}

// updateVariant picks the cached statement shape that omits nil payload
// columns so their stored contents survive the update.
func updateVariant(row *Row) (key string, setCols string) {
	var k strings.Builder
	k.WriteString("update:")
	cols := []string{"ver = ?"}
	if row.DSmall != nil {
		k.WriteByte('s')
		cols = append(cols, "dsmall = ?")
	}
	if row.DMedium != nil {
		k.WriteByte('m')
		cols = append(cols, "dmedium = ?")
	}
	if row.DLarge != nil {
		k.WriteByte('l')
		cols = append(cols, "dlarge = ?")
	}
	return k.String(), strings.Join(cols, ", ")
}

// -----------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------

// Delete removes the given rows matching on (id, ver). A row whose id no
// longer exists is a no-op; a version mismatch fails with Concurrency.
func (t *Table) Delete(ctx context.Context, q Queryer, rows []Row) error {
	return t.run(ctx, q, func(q Queryer) error {
		stmt := t.stmt("delete", func() string {
			return fmt.Sprintf("DELETE FROM %s WHERE id = ? AND ver = ?", t.cfg.Name)
		})
		for i := range rows {
			res, err := q.ExecContext(ctx, stmt, t.bindID(rows[i].ID), rows[i].Ver)
			if err != nil {
				return fmt.Errorf("failed to delete from %s: %w", t.cfg.Name, err)
			}
			if err := t.checkMutated(ctx, q, res, "DELETE", &rows[i], true); err != nil {
				return err
			}
		}
		t.logger.Debug().Str("table", t.cfg.Name).Int("count", len(rows)).Msg("Rows deleted")
		return nil
	})
}

// DeleteByDSmall removes every row whose dsmall matches one of the given
// values and returns the number of rows deleted.
func (t *Table) DeleteByDSmall(ctx context.Context, q Queryer, values []string) (int64, error) {
	var total int64
	err := t.run(ctx, q, func(q Queryer) error {
		stmt := t.stmt("deleteByDsmall", func() string {
			return fmt.Sprintf("DELETE FROM %s WHERE dsmall = ?", t.cfg.Name)
		})
		for _, v := range values {
			res, err := q.ExecContext(ctx, stmt, v)
			if err != nil {
				return fmt.Errorf("failed to delete from %s by dsmall: %w", t.cfg.Name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows for %s: %w", t.cfg.Name, err)
			}
			total += n
		}
		return nil
	})
	return total, err
}

// DeleteAll removes every row and returns the number deleted.
func (t *Table) DeleteAll(ctx context.Context, q Queryer) (int64, error) {
	var total int64
	err := t.run(ctx, q, func(q Queryer) error {
		res, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", t.cfg.Name))
		if err != nil {
			return fmt.Errorf("failed to delete all from %s: %w", t.cfg.Name, err)
		}
		total, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows for %s: %w", t.cfg.Name, err)
		}
		return nil
	})
	return total, err
}

// checkMutated discriminates a zero-row mutation by re-reading the id.
func (t *Table) checkMutated(ctx context.Context, q Queryer, res sql.Result, op string, row *Row, missingOK bool) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", t.cfg.Name, err)
	}
	if n == 1 {
		return nil
	}

	read, err := t.selectOne(ctx, q, row.ID, ColID|ColVer)
	if err != nil {
		return err
	}
	if read == nil {
		if missingOK {
			return nil
		}
		return &NotFoundError{Table: t.cfg.Name, ID: row.ID.String()}
	}
	if read.Ver != row.Ver {
		return &ConcurrencyError{Table: t.cfg.Name, ID: row.ID.String(), Ver: row.Ver, ActualVer: read.Ver}
	}
	return fmt.Errorf("%w: %s %s id=%s ver=%d", ErrUnknown, op, t.cfg.Name, row.ID.String(), row.Ver)
}

// -----------------------------------------------------------------------
// Select
// -----------------------------------------------------------------------

// SelectBuilder accumulates WHERE conditions for a select. Conditions are
// joined with AND.
type SelectBuilder struct {
	conds   []string
	args    []any
	orderBy string
}

// Where appends a condition with its bind parameters.
func (b *SelectBuilder) Where(cond string, args ...any) *SelectBuilder {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
	return b
}

// OrderBy sets the ordering expression.
func (b *SelectBuilder) OrderBy(expr string) *SelectBuilder {
	b.orderBy = expr
	return b
}

func (b *SelectBuilder) clause() string {
	var sb strings.Builder
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	return sb.String()
}

// Select returns rows matching the built predicate. Unselected columns come
// back nil without a second round trip.
func (t *Table) Select(ctx context.Context, q Queryer, cols Columns, build func(b *SelectBuilder)) ([]Row, error) {
	if q == nil {
		q = t.db.DB()
	}
	b := &SelectBuilder{}
	if build != nil {
		build(b)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", t.selectExprs(cols), t.cfg.Name, b.clause())
	rows, err := q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", t.cfg.Name, err)
	}
	defer rows.Close()

	return t.scanRows(rows)
}

// SelectOne returns the row with the given id, or nil when absent.
func (t *Table) SelectOne(ctx context.Context, q Queryer, id RowID, cols Columns) (*Row, error) {
	if q == nil {
		q = t.db.DB()
	}
	return t.selectOne(ctx, q, id, cols)
}

func (t *Table) selectOne(ctx context.Context, q Queryer, id RowID, cols Columns) (*Row, error) {
	out, err := t.Select(ctx, q, cols, func(b *SelectBuilder) {
		b.Where("id = ?", t.bindID(id))
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// SelectAll returns every row in the table.
func (t *Table) SelectAll(ctx context.Context, q Queryer, cols Columns) ([]Row, error) {
	return t.Select(ctx, q, cols, nil)
}

// SelectCount returns the number of rows matching the built predicate.
func (t *Table) SelectCount(ctx context.Context, q Queryer, build func(b *SelectBuilder)) (int64, error) {
	if q == nil {
		q = t.db.DB()
	}
	b := &SelectBuilder{}
	if build != nil {
		build(b)
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", t.cfg.Name, b.clause())
	var count int64
	if err := q.QueryRowContext(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", t.cfg.Name, err)
	}
	return count, nil
}

// SelectCountAll returns the total number of rows.
func (t *Table) SelectCountAll(ctx context.Context, q Queryer) (int64, error) {
	return t.SelectCount(ctx, q, nil)
}

// DistinctDSmall returns the set of distinct dsmall values.
func (t *Table) DistinctDSmall(ctx context.Context, q Queryer) ([]string, error) {
	if q == nil {
		q = t.db.DB()
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT dsmall FROM %s", t.cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to select distinct dsmall from %s: %w", t.cfg.Name, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan dsmall from %s: %w", t.cfg.Name, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SelectWhereDSmallIn returns rows whose dsmall matches one of the values.
func (t *Table) SelectWhereDSmallIn(ctx context.Context, q Queryer, values []string, cols Columns) ([]Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return t.Select(ctx, q, cols, func(b *SelectBuilder) {
		b.Where(fmt.Sprintf("dsmall IN (%s)", placeholders), args...)
	})
}

// -----------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------

// run executes fn inside q, or inside a new committed transaction when q
// is nil.
func (t *Table) run(ctx context.Context, q Queryer, fn func(q Queryer) error) error {
	if q != nil {
		return fn(q)
	}
	return t.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(tx)
	})
}

func (t *Table) bindID(id RowID) any {
	if t.cfg.IDKind == IDUUID {
		return hex.EncodeToString(id.UUID[:])
	}
	return id.Int
}

func (t *Table) selectExprs(cols Columns) string {
	parts := make([]string, 0, 5)
	add := func(c Columns, name string) {
		if cols&c != 0 {
			parts = append(parts, name)
		} else {
			parts = append(parts, "NULL")
		}
	}
	add(ColID, "id")
	add(ColVer, "ver")
	add(ColDSmall, "dsmall")
	add(ColDMedium, "dmedium")
	add(ColDLarge, "dlarge")
	return strings.Join(parts, ", ")
}

func (t *Table) scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			idInt   sql.NullInt64
			idStr   sql.NullString
			ver     sql.NullInt64
			dsmall  sql.NullString
			dmedium sql.NullString
			dlarge  sql.NullString
		)
		var idTarget any = &idInt
		if t.cfg.IDKind == IDUUID {
			idTarget = &idStr
		}
		if err := rows.Scan(idTarget, &ver, &dsmall, &dmedium, &dlarge); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", t.cfg.Name, err)
		}

		var r Row
		if t.cfg.IDKind == IDUUID {
			if idStr.Valid {
				u, err := uuid.Parse(idStr.String)
				if err != nil {
					return nil, fmt.Errorf("failed to parse row id from %s: %w", t.cfg.Name, err)
				}
				r.ID = RowID{UUID: u}
			}
		} else if idInt.Valid {
			r.ID = RowID{Int: idInt.Int64}
		}
		if ver.Valid {
			r.Ver = ver.Int64
		}
		if dsmall.Valid {
			s := dsmall.String
			r.DSmall = &s
		}
		if dmedium.Valid {
			s := dmedium.String
			r.DMedium = &s
		}
		if dlarge.Valid {
			s := dlarge.String
			r.DLarge = &s
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// stmt returns the cached SQL for key, building it on first use.
func (t *Table) stmt(key string, build func() string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stmts[key]
	if !ok {
		s = build()
		t.stmts[key] = s
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Str returns a pointer to s, for building row payload columns.
func Str(s string) *string {
	return &s
}
