package datarecording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownTable is returned when querying a table that is not mapped.
var ErrUnknownTable = errors.New("unknown table")

// ErrBadQuery is returned when the parameters of a query do not fit the
// columns of the table.
var ErrBadQuery = errors.New("bad query")

// A Filter keeps the rows where Column equals Value. Value is parsed as the
// type of the field the column is recorded from, so "7" matches the number 7
// and "true" matches a recorded true.
type Filter struct {
	Column string
	Value  string
}

// QueryParams selects and pages the rows of a table.
type QueryParams struct {
	// Filters are combined with AND.
	Filters []Filter

	// OrderBy is the column to sort by. Rows keep the insertion order if it
	// is empty.
	OrderBy    string
	Descending bool

	// Limit is the maximum number of rows to return. Zero means no limit.
	Limit  int
	Offset int
}

// DataReader reads back the tables written by a DataRecorder.
type DataReader interface {
	// MapTable associates a table with the struct type of its rows. A table
	// must be mapped before it can be queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the names of the mapped tables, sorted.
	ListTables() []string

	// Query returns pointers to the rows that match, together with the total
	// number of matching rows regardless of Limit and Offset.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close releases the reader. The database is closed only if the reader
	// opened it.
	Close() error
}

type sqliteReader struct {
	db     *sql.DB
	ownsDB bool

	lock   sync.Mutex
	tables map[string]reflect.Type
}

// NewReader opens a SQLite file for reading.
func NewReader(dbFilename string) DataReader {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		panic(err)
	}

	r := newSQLiteReader(db)
	r.ownsDB = true

	return r
}

// NewReaderWithDB creates a DataReader over a database owned by the caller.
func NewReaderWithDB(db *sql.DB) DataReader {
	return newSQLiteReader(db)
}

func newSQLiteReader(db *sql.DB) *sqliteReader {
	return &sqliteReader{
		db:     db,
		tables: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	structType := reflect.TypeOf(sampleEntry)

	err := checkStructFields(structType)
	if err != nil {
		panic(err)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.tables[tableName] = structType
}

func (r *sqliteReader) ListTables() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *sqliteReader) tableType(tableName string) (reflect.Type, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	structType, ok := r.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	return structType, nil
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, err := r.tableType(tableName)
	if err != nil {
		return nil, 0, err
	}

	sel, err := newSelection(structType, params)
	if err != nil {
		return nil, 0, err
	}

	var total int

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+sel.where, sel.args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := "SELECT " + strings.Join(fieldNames(structType), ", ") +
		" FROM " + tableName + sel.where + sel.order + sel.page

	rows, err := r.db.QueryContext(ctx, query, sel.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

func (r *sqliteReader) Close() error {
	if !r.ownsDB {
		return nil
	}

	return r.db.Close()
}

// A selection holds the SQL clauses of a query. Column names only come from
// the struct fields, values only go through placeholders.
type selection struct {
	where string
	order string
	page  string
	args  []any
}

func newSelection(structType reflect.Type, params QueryParams) (selection, error) {
	sel := selection{}

	conditions := make([]string, 0, len(params.Filters))
	for _, f := range params.Filters {
		field, ok := structType.FieldByName(f.Column)
		if !ok {
			return sel, fmt.Errorf("%w: no column %q", ErrBadQuery, f.Column)
		}

		v, err := parseColumnValue(field.Type.Kind(), f.Value)
		if err != nil {
			return sel, fmt.Errorf("%w: column %s: %w", ErrBadQuery, f.Column, err)
		}

		conditions = append(conditions, field.Name+" = ?")
		sel.args = append(sel.args, v)
	}

	if len(conditions) > 0 {
		sel.where = " WHERE " + strings.Join(conditions, " AND ")
	}

	if params.OrderBy != "" {
		field, ok := structType.FieldByName(params.OrderBy)
		if !ok {
			return sel, fmt.Errorf("%w: no column %q to order by",
				ErrBadQuery, params.OrderBy)
		}

		sel.order = " ORDER BY " + field.Name
		if params.Descending {
			sel.order += " DESC"
		}
	}

	if params.Limit < 0 || params.Offset < 0 {
		return sel, fmt.Errorf("%w: negative limit or offset", ErrBadQuery)
	}

	switch {
	case params.Limit > 0:
		sel.page = fmt.Sprintf(" LIMIT %d OFFSET %d", params.Limit, params.Offset)
	case params.Offset > 0:
		sel.page = fmt.Sprintf(" LIMIT -1 OFFSET %d", params.Offset)
	}

	return sel, nil
}

func parseColumnValue(kind reflect.Kind, s string) (any, error) {
	switch kind {
	case reflect.Bool:
		return strconv.ParseBool(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(s, 10, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return strconv.ParseUint(s, 10, 63)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(s, 64)
	default:
		return s, nil
	}
}

// scanRows fills one struct per row. The columns come in field order.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	results := []any{}

	for rows.Next() {
		entry := reflect.New(structType)
		value := entry.Elem()

		targets := make([]any, value.NumField())
		for i := range targets {
			targets[i] = value.Field(i).Addr().Interface()
		}

		err := rows.Scan(targets...)
		if err != nil {
			return nil, err
		}

		results = append(results, entry.Interface())
	}

	return results, rows.Err()
}
