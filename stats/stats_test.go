// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stats

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/covguide/covguide/coverage"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func query(t *testing.T, dir, q string) []int64 {
	t.Helper()
	conn, err := sqlite.OpenConn(filepath.Join(dir, StatsFile), sqlite.OpenReadOnly)
	require.NoError(t, err)
	defer conn.Close()
	var res []int64
	err = sqlitex.ExecuteTransient(conn, q, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			for i := 0; i < stmt.ColumnCount(); i++ {
				res = append(res, stmt.ColumnInt64(i))
			}
			return nil
		},
	})
	require.NoError(t, err)
	return res
}

func TestCommitBatching(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 3)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())
	for i := 0; i < 4; i++ {
		require.NoError(t, w.WriteLine(Row{Instructions: uint64(i)}))
	}
	c := w.Cursor()
	require.Equal(t, 1, c.Pending)
	require.Equal(t, 3, c.Committed)
	require.Equal(t, 1, c.Commits)
	require.False(t, c.Start.IsZero())

	// Only the committed batch is visible to other readers.
	require.Equal(t, []int64{3}, query(t, dir, "SELECT COUNT(*) FROM stats"))

	require.NoError(t, w.Done())
	require.NoError(t, w.Done())
	require.Equal(t, []int64{4}, query(t, dir, "SELECT COUNT(*) FROM stats"))
	require.Equal(t, []int64{0, 1, 2, 3}, query(t, dir, "SELECT instructions FROM stats ORDER BY rowid"))
	require.Error(t, w.WriteLine(Row{}))
}

func exec(t *testing.T, dir, q string) {
	t.Helper()
	conn, err := sqlite.OpenConn(filepath.Join(dir, StatsFile), sqlite.OpenReadWrite, sqlite.OpenWAL)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, sqlitex.ExecuteTransient(conn, q, nil))
}

func TestFailedBatchIsDropped(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteLine(Row{Instructions: 1}))
	require.NoError(t, w.WriteLine(Row{Instructions: 2}))

	exec(t, dir, "ALTER TABLE stats RENAME TO stats_old")
	err = w.WriteLine(Row{Instructions: 3})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such table: stats")
	c := w.Cursor()
	require.Equal(t, 1, c.Dropped)
	require.Equal(t, 0, c.Pending)

	// The next row starts a new batch.
	exec(t, dir, "ALTER TABLE stats_old RENAME TO stats")
	require.NoError(t, w.WriteLine(Row{Instructions: 4}))
	require.NoError(t, w.WriteLine(Row{Instructions: 5}))
	c = w.Cursor()
	require.Equal(t, 4, c.Committed)
	require.Equal(t, 2, c.Commits)
	require.Equal(t, 1, c.Dropped)
	require.NoError(t, w.Done())
	require.Equal(t, []int64{1, 2, 4, 5}, query(t, dir, "SELECT instructions FROM stats ORDER BY rowid"))
}

func TestZeroEventRow(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 16)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(Row{}))
	require.NoError(t, w.Done())
	got := query(t, dir, "SELECT * FROM stats")
	require.Equal(t, make([]int64, len(columns)), got)
}

func TestDoneWithoutWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, w.Done())
	require.NoError(t, w.Done())
	for _, name := range []string{StatsFile, IStatsFile, BCStatsFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
}

func TestUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0660))
	_, err := Open(filepath.Join(file, "out"), 1)
	require.Error(t, err)
}

const wantIStats = `mode: count
a.go:3.1,4.1 2 0
a.go:10.1,11.1 1 7
b.go:1.1,2.1 4 1
`

func TestIStats(t *testing.T) {
	lines := []LineStat{
		{File: "b.go", Line: 1, Instructions: 4, Covered: 4, Count: 1},
		{File: "a.go", Line: 10, Instructions: 1, Covered: 1, Count: 7},
		{File: "a.go", Line: 3, Instructions: 2},
	}
	got := string(FormatIStats(lines))
	if got != wantIStats {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(wantIStats),
			B:        difflib.SplitLines(got),
			FromFile: "want",
			ToFile:   "got",
			Context:  3,
		})
		t.Fatalf("istats mismatch:\n%v", diff)
	}

	dir := t.TempDir()
	w, err := Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(Row{}))
	dump := IStats{
		Lines: lines,
		CallPaths: []CallPathStat{
			{Chain: "main", Calls: 1, Instructions: 10},
			{Chain: "main>f", Calls: 3, Instructions: 6},
		},
	}
	require.NoError(t, w.WriteIStats(dump))
	require.NoError(t, w.WriteIStats(dump))
	require.NoError(t, w.Done())

	data, err := os.ReadFile(filepath.Join(dir, IStatsFile))
	require.NoError(t, err)
	require.Equal(t, wantIStats, string(data))
	require.Equal(t, []int64{2, 16}, query(t, dir, "SELECT COUNT(*), SUM(instructions) FROM callpaths"))
	require.Equal(t, []int64{1}, query(t, dir, "SELECT COUNT(*) FROM stats"))
}

func TestBCStats(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)

	cov := coverage.NewSet()
	cov.RecordVisit(1, "a.go:2", true)
	cov.RecordVisit(2, "lib.go:9", false)
	cov.RecordLine("a.go:2", true)
	require.NoError(t, w.WriteBCStats(1500*time.Millisecond, cov.TakeDelta()))
	require.NoError(t, w.WriteBCStats(3*time.Second, cov.TakeDelta()))
	require.NoError(t, w.Done())

	f, err := os.Open(filepath.Join(dir, BCStatsFile))
	require.NoError(t, err)
	defer f.Close()
	var entries []BCEntry
	s := bufio.NewScanner(f)
	for s.Scan() {
		var e BCEntry
		require.NoError(t, json.Unmarshal(s.Bytes(), &e), strings.TrimSpace(s.Text()))
		entries = append(entries, e)
	}
	require.NoError(t, s.Err())
	require.Equal(t, []BCEntry{
		{
			Elapsed:       1.5,
			Blocks:        2,
			DefinedBlocks: 1,
			Lines:         []string{"a.go:2"},
			DefinedLines:  []string{"a.go:2"},
			BlockLocs:     []string{"a.go:2", "lib.go:9"},
		},
		{Elapsed: 3},
	}, entries)
}
