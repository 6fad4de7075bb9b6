package tracing

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteRecorder is a Tracer that writes transfer events to a SQLite
// database in batches.
type SQLiteRecorder struct {
	*sql.DB
	statement *sql.Stmt

	lock      sync.Mutex
	dbName    string
	pending   []TransferEvent
	batchSize int
	written   int
}

// NewSQLiteRecorder creates a new SQLiteRecorder. The database is stored in
// path.sqlite3. An empty path picks a unique name.
func NewSQLiteRecorder(path string) *SQLiteRecorder {
	r := &SQLiteRecorder{
		dbName:    path,
		batchSize: 10000,
	}

	return r
}

// WithBatchSize sets how many events are buffered before they are written.
func (r *SQLiteRecorder) WithBatchSize(n int) *SQLiteRecorder {
	if n <= 0 {
		log.Panicf("batch size must be positive, got %d", n)
	}

	r.batchSize = n

	return r
}

// Init creates the database and its table. The buffered events are flushed
// when the program exits through atexit.
func (r *SQLiteRecorder) Init() error {
	if r.dbName == "" {
		r.dbName = "aicdma_trace_" + xid.New().String()
	}

	filename := r.FileName()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("trace file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("opening trace database: %w", err)
	}

	r.DB = db

	if err := r.createTable(); err != nil {
		return err
	}

	r.statement, err = r.Prepare(
		`INSERT INTO transfer VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing trace statement: %w", err)
	}

	atexit.Register(func() {
		if err := r.Flush(); err != nil {
			log.Printf("flushing trace: %v", err)
		}
	})

	return nil
}

// FileName returns the database file the recorder writes to.
func (r *SQLiteRecorder) FileName() string {
	return r.dbName + ".sqlite3"
}

// Written returns the number of events committed to the database.
func (r *SQLiteRecorder) Written() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.written
}

// Record buffers an event and writes the buffer once it is full.
func (r *SQLiteRecorder) Record(e TransferEvent) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.pending = append(r.pending, e)
	if len(r.pending) < r.batchSize {
		return
	}

	if err := r.flushLocked(); err != nil {
		log.Panicf("writing trace: %v", err)
	}
}

// Flush writes every buffered event in one transaction.
func (r *SQLiteRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flushLocked()
}

func (r *SQLiteRecorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return fmt.Errorf("beginning trace transaction: %w", err)
	}

	stmt := tx.Stmt(r.statement)
	for _, e := range r.pending {
		_, err := stmt.Exec(
			e.ID,
			e.Kind,
			e.Engine,
			e.VChan,
			e.PChan,
			e.Port,
			e.Cookie,
			e.Bytes,
			e.Tasks,
			e.Cyclic,
			e.Dedicated,
			e.Error,
			float64(e.SimTime),
			e.WallTime.UnixNano(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trace: %w", err)
	}

	r.written += len(r.pending)
	r.pending = nil

	return nil
}

// Close flushes the buffer and closes the database.
func (r *SQLiteRecorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}

	return r.DB.Close()
}

func (r *SQLiteRecorder) createTable() error {
	stmts := []string{`
		create table transfer
		(
			event_id   varchar(200) not null,
			kind       varchar(20)  not null,
			engine     varchar(100) not null,
			vchan      integer,
			pchan      integer,
			port       integer,
			cookie     integer,
			bytes      integer,
			tasks      integer,
			cyclic     boolean,
			dedicated  boolean,
			error      text,
			sim_time   float        not null,
			wall_time  integer      not null
		);`,
		`create index transfer_kind_index on transfer (kind);`,
		`create index transfer_cookie_index on transfer (engine, vchan, cookie);`,
		`create index transfer_sim_time_index on transfer (sim_time);`,
	}

	for _, s := range stmts {
		if _, err := r.Exec(s); err != nil {
			return fmt.Errorf("creating trace table: %w", err)
		}
	}

	return nil
}
