// Package datarecording stores the records of a simulation in a SQLite
// database.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a new table whose columns are the fields of the
	// sample entry. The sample entry must be a struct of plain values.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists. The entry
	// must have the type of the sample entry of the table.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all the tables.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Reader returns a DataReader over the same database, with every table
	// created so far mapped. Rows still buffered are not visible until Flush.
	Reader() DataReader

	// Close flushes the buffered entries and closes the database.
	Close() error
}

// New creates a DataRecorder that writes into the file path.sqlite3. An
// empty path picks a unique name. The recorder flushes itself when the program
// exits through atexit. A DataRecorder is safe for concurrent use.
func New(path string) DataRecorder {
	w := newSQLiteWriter()
	w.open(path)

	atexit.Register(func() { w.Flush() })

	return w
}

// NewWithDB creates a DataRecorder that writes into an opened database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := newSQLiteWriter()
	w.DB = db

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteWriter struct {
	*sql.DB
	sync.Mutex

	dbName     string
	tables     map[string]*table
	tableNames []string
	batchSize  int
	entryCount int
}

func newSQLiteWriter() *sqliteWriter {
	return &sqliteWriter{
		batchSize: 100000,
		tables:    make(map[string]*table),
	}
}

func (w *sqliteWriter) open(path string) {
	w.dbName = path
	if w.dbName == "" {
		w.dbName = "vmsim_recording_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.DB = db
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(structType reflect.Type) error {
	if structType.Kind() != reflect.Struct {
		return fmt.Errorf("entry of type %s is not a struct", structType)
	}

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s of type %s cannot be recorded",
				field.Name, field.Type)
		}
	}

	return nil
}

func fieldNames(structType reflect.Type) []string {
	names := make([]string, structType.NumField())
	for i := range names {
		names[i] = structType.Field(i).Name
	}

	return names
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	structType := reflect.TypeOf(sampleEntry)

	err := checkStructFields(structType)
	if err != nil {
		panic(err)
	}

	w.Lock()
	defer w.Unlock()

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	fields := strings.Join(fieldNames(structType), ", \n\t")
	w.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`)

	w.createIndexes(tableName, structType)

	w.tables[tableName] = &table{structType: structType}
	w.tableNames = append(w.tableNames, tableName)
}

// createIndexes adds an index on each field tagged `vmsim_data:"index"`.
func (w *sqliteWriter) createIndexes(tableName string, structType reflect.Type) {
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		tag, ok := field.Tag.Lookup("vmsim_data")
		if !ok || tag != "index" {
			continue
		}

		w.mustExecute(fmt.Sprintf("CREATE INDEX %s_%s ON %s (%s);",
			tableName, field.Name, tableName, field.Name))
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.Lock()
	defer w.Unlock()

	table, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		panic(fmt.Sprintf("table %s expects %s, got %T",
			tableName, table.structType, entry))
	}

	table.entries = append(table.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.Lock()
	defer w.Unlock()

	return append([]string(nil), w.tableNames...)
}

func (w *sqliteWriter) Reader() DataReader {
	w.Lock()
	defer w.Unlock()

	r := newSQLiteReader(w.DB)
	for _, tableName := range w.tableNames {
		r.tables[tableName] = w.tables[tableName].structType
	}

	return r
}

func (w *sqliteWriter) Flush() {
	w.Lock()
	defer w.Unlock()

	w.flush()
}

func (w *sqliteWriter) flush() {
	if w.entryCount == 0 {
		return
	}

	tx, err := w.Begin()
	if err != nil {
		panic(err)
	}

	for _, tableName := range w.tableNames {
		table := w.tables[tableName]
		if len(table.entries) == 0 {
			continue
		}

		flushTable(tx, tableName, table)
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	w.entryCount = 0
}

func flushTable(tx *sql.Tx, tableName string, table *table) {
	stmt := prepareStatement(tx, tableName, table.structType)
	defer stmt.Close()

	for _, entry := range table.entries {
		value := reflect.ValueOf(entry)

		v := make([]any, value.NumField())
		for i := range v {
			v[i] = value.Field(i).Interface()
		}

		_, err := stmt.Exec(v...)
		if err != nil {
			panic(err)
		}
	}

	table.entries = nil
}

func (w *sqliteWriter) Close() error {
	w.Lock()
	defer w.Unlock()

	w.flush()

	return w.DB.Close()
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func prepareStatement(
	tx *sql.Tx,
	tableName string,
	structType reflect.Type,
) *sql.Stmt {
	n := make([]string, structType.NumField())
	for i := range n {
		n[i] = "?"
	}

	sqlStr := "INSERT INTO " + tableName +
		" VALUES (" + strings.Join(n, ", ") + ")"

	stmt, err := tx.Prepare(sqlStr)
	if err != nil {
		panic(err)
	}

	return stmt
}
