// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stats

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/covguide/covguide/coverage"
	"zombiezen.com/go/sqlite/sqlitex"
)

// LineStat aggregates the instructions of one source line.
type LineStat struct {
	File         string
	Line         int
	Instructions int    // static instructions on the line
	Covered      int    // instructions executed at least once
	Count        uint64 // executions
}

type CallPathStat struct {
	Chain        string
	Calls        uint64
	Instructions uint64
}

type IStats struct {
	Lines     []LineStat
	CallPaths []CallPathStat
}

// FormatIStats renders lines as a count-mode cover profile. Every line is one
// block covering the whole line; the statement count is the number of
// instructions on it.
func FormatIStats(lines []LineStat) []byte {
	sorted := append([]LineStat(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		return sorted[i].Line < sorted[j].Line
	})
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "mode: count\n")
	for _, l := range sorted {
		fmt.Fprintf(buf, "%s:%v.1,%v.1 %v %v\n", l.File, l.Line, l.Line+1, l.Instructions, l.Count)
	}
	return buf.Bytes()
}

// WriteIStats replaces the istats dump and the call path table.
func (w *Writer) WriteIStats(dump IStats) (err error) {
	if w.done {
		return fmt.Errorf("stats writer is closed")
	}
	if err := replaceFile(filepath.Join(w.dir, IStatsFile), FormatIStats(dump.Lines)); err != nil {
		return fmt.Errorf("failed to write istats: %w", err)
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	defer sqlitex.Save(w.conn)(&err)
	if err := sqlitex.ExecuteTransient(w.conn, "DELETE FROM callpaths", nil); err != nil {
		return fmt.Errorf("failed to clear call paths: %w", err)
	}
	stmt, err := w.conn.Prepare("INSERT OR REPLACE INTO callpaths (chain, calls, instructions) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare call path insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()
	for _, cp := range dump.CallPaths {
		stmt.BindText(1, cp.Chain)
		stmt.BindInt64(2, int64(cp.Calls))
		stmt.BindInt64(3, int64(cp.Instructions))
		if _, err := stmt.Step(); err != nil {
			_ = stmt.Reset()
			return fmt.Errorf("insert call path %v: %w", cp.Chain, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

// BCEntry is one line of the coverage time series.
type BCEntry struct {
	Elapsed       float64  `json:"elapsed"` // seconds
	Blocks        int      `json:"blocks"`
	DefinedBlocks int      `json:"defined_blocks"`
	Lines         []string `json:"lines,omitempty"`
	DefinedLines  []string `json:"defined_lines,omitempty"`
	BlockLocs     []string `json:"block_locs,omitempty"`
}

// WriteBCStats appends what was newly covered during the last interval.
func (w *Writer) WriteBCStats(elapsed time.Duration, delta coverage.Delta) error {
	if w.done {
		return fmt.Errorf("stats writer is closed")
	}
	e := BCEntry{
		Elapsed:       elapsed.Seconds(),
		Blocks:        len(delta.Blocks),
		DefinedBlocks: len(delta.DefinedBlocks),
		Lines:         delta.Lines,
		DefinedLines:  delta.DefinedLines,
	}
	for _, rec := range delta.Blocks {
		e.BlockLocs = append(e.BlockLocs, rec.Loc)
	}
	sort.Strings(e.BlockLocs)
	if err := w.appendJSON(e); err != nil {
		return fmt.Errorf("failed to write bcstats: %w", err)
	}
	return nil
}
