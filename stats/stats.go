// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats persists run statistics.
//
// A run directory holds three artifacts:
//
//	run.stats    sqlite database, one row per flush in table stats
//	run.istats   per-line coverage profile in go cover format
//	run.bcstats  coverage time series, one JSON object per flush
//
// Stats rows are inserted into an open transaction that is committed every
// commitEvery rows, so a killed run loses at most one batch.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	StatsFile   = "run.stats"
	IStatsFile  = "run.istats"
	BCStatsFile = "run.bcstats"
)

// Row is one line of the stats table.
type Row struct {
	Elapsed               time.Duration
	Instructions          uint64
	CoveredInstructions   uint64
	UncoveredInstructions uint64
	Blocks                int
	DefinedBlocks         int
	Lines                 int
	DefinedLines          int
	Branches              int
	FullBranches          int
	PartialBranches       int
	LivePaths             int
	CallPathNodes         int
	DistanceRebuilds      int
}

var columns = []string{
	"elapsed_us",
	"instructions",
	"covered_instructions",
	"uncovered_instructions",
	"blocks",
	"defined_blocks",
	"lines",
	"defined_lines",
	"branches",
	"full_branches",
	"partial_branches",
	"live_paths",
	"call_path_nodes",
	"distance_rebuilds",
}

func (r *Row) values() []int64 {
	return []int64{
		r.Elapsed.Microseconds(),
		int64(r.Instructions),
		int64(r.CoveredInstructions),
		int64(r.UncoveredInstructions),
		int64(r.Blocks),
		int64(r.DefinedBlocks),
		int64(r.Lines),
		int64(r.DefinedLines),
		int64(r.Branches),
		int64(r.FullBranches),
		int64(r.PartialBranches),
		int64(r.LivePaths),
		int64(r.CallPathNodes),
		int64(r.DistanceRebuilds),
	}
}

// Cursor describes the state of the write batch.
type Cursor struct {
	Pending   int       // rows in the open transaction
	Start     time.Time // when the open transaction began
	Committed int       // rows committed so far
	Commits   int
	Dropped   int // rows lost to failed writes
}

type Writer struct {
	dir         string
	commitEvery int

	conn    *sqlite.Conn
	insert  *sqlite.Stmt
	end     func(*error) // ends the open transaction, nil if none
	cursor  Cursor
	bcstats *os.File
	done    bool
}

var errAbort = errors.New("batch aborted")

// Open creates the run artifacts in dir. commitEvery values below 1 commit
// every row.
func Open(dir string, commitEvery int) (*Writer, error) {
	if commitEvery < 1 {
		commitEvery = 1
	}
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	w := &Writer{dir: dir, commitEvery: commitEvery}
	f, err := os.Create(filepath.Join(dir, IStatsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create istats file: %w", err)
	}
	f.Close()
	w.bcstats, err = os.Create(filepath.Join(dir, BCStatsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create bcstats file: %w", err)
	}
	w.conn, err = sqlite.OpenConn(filepath.Join(dir, StatsFile), sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		w.bcstats.Close()
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if err := sqlitex.ExecuteTransient(w.conn, pragma, nil); err != nil {
			w.close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return w, nil
}

// WriteHeader creates the stats table. Only the first call has an effect.
func (w *Writer) WriteHeader() error {
	if w.insert != nil {
		return nil
	}
	var defs []string
	for _, c := range columns {
		defs = append(defs, c+" INTEGER NOT NULL")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stats (%s);
CREATE TABLE IF NOT EXISTS callpaths (chain TEXT PRIMARY KEY, calls INTEGER NOT NULL, instructions INTEGER NOT NULL);`,
		strings.Join(defs, ", "))
	if err := sqlitex.ExecuteScript(w.conn, ddl, nil); err != nil {
		return fmt.Errorf("failed to create stats table: %w", err)
	}
	stmt, err := w.conn.Prepare(fmt.Sprintf("INSERT INTO stats (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")))
	if err != nil {
		return fmt.Errorf("prepare stats insert: %w", err)
	}
	w.insert = stmt
	return nil
}

// WriteLine appends a row to the open batch and commits the batch once it
// is full. On failure the whole batch is dropped and the next call starts a
// new one.
func (w *Writer) WriteLine(row Row) error {
	if w.done {
		return errors.New("stats writer is closed")
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.end == nil {
		end, err := sqlitex.ImmediateTransaction(w.conn)
		if err != nil {
			return fmt.Errorf("begin stats batch: %w", err)
		}
		w.end = end
		w.cursor.Start = time.Now()
	}
	for i, v := range row.values() {
		w.insert.BindInt64(i+1, v)
	}
	_, err := w.insert.Step()
	_ = w.insert.Reset()
	if err != nil {
		w.cursor.Dropped++
		w.rollback()
		return fmt.Errorf("insert stats row: %w", err)
	}
	w.cursor.Pending++
	if w.cursor.Pending >= w.commitEvery {
		return w.Commit()
	}
	return nil
}

// Commit commits the open batch, if any.
func (w *Writer) Commit() error {
	if w.end == nil {
		return nil
	}
	var err error
	w.end(&err)
	w.end = nil
	if err != nil {
		w.cursor.Dropped += w.cursor.Pending
		w.cursor.Pending = 0
		return fmt.Errorf("commit stats batch: %w", err)
	}
	w.cursor.Committed += w.cursor.Pending
	w.cursor.Commits++
	w.cursor.Pending = 0
	return nil
}

func (w *Writer) rollback() {
	err := errAbort
	w.end(&err)
	w.end = nil
	w.cursor.Dropped += w.cursor.Pending
	w.cursor.Pending = 0
}

func (w *Writer) Cursor() Cursor {
	return w.cursor
}

// Done commits pending rows and closes all artifacts. It is safe to call
// more than once and without any prior writes.
func (w *Writer) Done() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.Commit()
	if err1 := w.close(); err == nil {
		err = err1
	}
	return err
}

func (w *Writer) close() error {
	var err error
	if w.insert != nil {
		err = w.insert.Finalize()
		w.insert = nil
	}
	if err1 := w.conn.Close(); err == nil {
		err = err1
	}
	if err1 := w.bcstats.Close(); err == nil {
		err = err1
	}
	return err
}

// replaceFile writes data to a temporary file and renames it over name,
// so readers see either the old or the new dump.
func replaceFile(name string, data []byte) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0660); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

func (w *Writer) appendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.bcstats.Write(append(data, '\n'))
	return err
}
