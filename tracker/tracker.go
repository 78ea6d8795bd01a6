// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tracker drives coverage accounting from the hooks of an execution
// engine. All hooks must be called from one goroutine.
//
// Preconditions on the host, not checked at runtime: StepInstruction is
// called before the instruction at the state's PC executes, MarkBranchVisited
// right after the branch at the last stepped instruction is resolved, and
// FramePushed/FramePopped are balanced per state.
package tracker

import (
	"fmt"
	"log"
	"time"

	"github.com/covguide/covguide/branch"
	"github.com/covguide/covguide/callpath"
	"github.com/covguide/covguide/coverage"
	"github.com/covguide/covguide/distance"
	"github.com/covguide/covguide/program"
	"github.com/covguide/covguide/stats"
)

// ExecutionState is a path of the host engine.
type ExecutionState interface {
	ID() uint64
	PC() program.InstID
	Frame() StackFrame // innermost frame
}

type StackFrame interface {
	Caller() program.InstID // call instruction, NoInst for the entry frame
	Function() program.FuncID
}

type frame struct {
	ra       program.InstID // where the caller resumes
	onReturn uint32         // distance after returning from this frame
}

type Tracker struct {
	prog *program.Program
	cfg  Config

	cov      *coverage.Set
	branches *branch.Coverage
	paths    *callpath.Tracker
	engine   *distance.Engine
	writer   *stats.Writer
	frames   map[uint64][]frame

	start      time.Time
	cursor     program.InstID // last stepped instruction
	execCounts []uint64       // per instruction, only with istats
	executed   []bool

	instructions    uint64
	coveredInsts    uint64
	analyzedInsts   uint64
	stepsSinceFlush int
	lastFlush       time.Time
	lastIStats      time.Time
	stepsSinceBuild int
	newBlocks       int
	rebuilds        int
	done            bool

	// OnFlush, if set, observes every stats row.
	OnFlush func(stats.Row)
}

// New prepares tracking of prog. Output artifacts are created here, so a
// non-nil error means no hook may be called.
func New(prog *program.Program, cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ObjectFilename == "" {
		cfg.ObjectFilename = prog.Object
	}
	t := &Tracker{
		prog:     prog,
		cfg:      cfg,
		cov:      coverage.NewSet(),
		branches: branch.New(),
		paths:    callpath.New(),
		frames:   make(map[uint64][]frame),
		start:    time.Now(),
		cursor:   program.NoInst,
		executed: make([]bool, prog.NumInsts()),
	}
	t.lastFlush = t.start
	t.lastIStats = t.start
	for i := 0; i < prog.NumInsts(); i++ {
		id := program.InstID(i)
		if !prog.Analyzed(id) {
			continue
		}
		t.analyzedInsts++
		if prog.Inst(id).Kind == program.Branch {
			t.branches.Register(id)
		}
	}
	if !cfg.Statistics {
		return t, nil
	}
	if cfg.IStats {
		t.execCounts = make([]uint64, prog.NumInsts())
	}
	w, err := stats.Open(cfg.OutputDir, cfg.StatsCommitEvery)
	if err != nil {
		return nil, err
	}
	if err := w.WriteHeader(); err != nil {
		w.Done()
		return nil, err
	}
	t.writer = w
	if cfg.UpdateMinDistToUncovered {
		t.engine = distance.NewEngine(prog)
		t.ComputeReachableUncovered()
	}
	if cfg.Verbose >= 1 {
		log.Printf("tracking %v: %v functions, %v blocks, %v instructions, %v branches",
			cfg.ObjectFilename, prog.NumFuncs(), prog.NumBlocks(), prog.NumInsts(), t.branches.Totals().Total)
	}
	return t, nil
}

func (t *Tracker) UseStatistics() bool { return t.cfg.Statistics }
func (t *Tracker) UseIStats() bool     { return t.cfg.Statistics && t.cfg.IStats }

func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Tracker) active() bool {
	return t.cfg.Statistics && !t.done
}

// FramePushed records that es entered a new frame. parent is the frame it was
// called from, nil for the entry frame.
func (t *Tracker) FramePushed(es ExecutionState, parent StackFrame) {
	if !t.active() {
		return
	}
	id := es.ID()
	fr := es.Frame()
	caller := program.NoInst
	if parent != nil {
		caller = fr.Caller()
	}
	t.paths.FramePushed(id, caller, fr.Function())

	f := frame{ra: program.NoInst, onReturn: distance.Unreachable}
	if caller != program.NoInst {
		f.ra = t.prog.Continuation(caller)
	}
	if tab := t.Distances(); tab != nil && f.ra != program.NoInst {
		f.onReturn = tab.MinDistToUncovered(f.ra, t.distAtReturn(id))
	}
	t.frames[id] = append(t.frames[id], f)
}

func (t *Tracker) FramePopped(es ExecutionState) {
	if !t.active() {
		return
	}
	id := es.ID()
	t.paths.FramePopped(id)
	if fs := t.frames[id]; len(fs) != 0 {
		t.frames[id] = fs[:len(fs)-1]
	}
}

// StateForked records that child was split off parent and shares its stack.
func (t *Tracker) StateForked(parent, child ExecutionState) {
	if !t.active() {
		return
	}
	t.paths.Forked(parent.ID(), child.ID())
	t.frames[child.ID()] = append([]frame(nil), t.frames[parent.ID()]...)
}

func (t *Tracker) StateTerminated(es ExecutionState) {
	if !t.active() {
		return
	}
	t.paths.Terminated(es.ID())
	delete(t.frames, es.ID())
}

// MarkBranchVisited records the outcome of the branch at the last stepped
// instruction.
func (t *Tracker) MarkBranchVisited(trueSide, falseSide bool) {
	if !t.active() || t.cursor == program.NoInst {
		return
	}
	t.branches.MarkVisited(t.cursor, trueSide, falseSide)
}

// StepInstruction accounts the instruction es is about to execute.
func (t *Tracker) StepInstruction(es ExecutionState) {
	if !t.active() {
		return
	}
	pc := es.PC()
	inst := t.prog.Inst(pc)
	analyzed := t.prog.Analyzed(pc)
	t.cursor = pc
	t.instructions++
	if t.execCounts != nil {
		t.execCounts[pc]++
	}
	if !t.executed[pc] {
		t.executed[pc] = true
		if analyzed {
			t.coveredInsts++
		}
	}
	if t.prog.IsBlockStart(pc) || !t.cov.IsCovered(inst.Block) {
		if t.cov.RecordVisit(inst.Block, inst.Loc.String(), analyzed) {
			t.newBlocks++
			if t.cfg.Verbose >= 3 {
				log.Printf("new block %v at %v", inst.Block, inst.Loc)
			}
		}
	}
	t.cov.RecordLine(inst.Loc.String(), analyzed)
	if t.cfg.CallPaths {
		t.paths.AddInstructions(es.ID(), 1)
	}

	t.stepsSinceFlush++
	if t.cfg.StatsEvery > 0 && t.stepsSinceFlush >= t.cfg.StatsEvery ||
		t.cfg.StatsInterval > 0 && t.instructions%1024 == 0 && time.Since(t.lastFlush) >= t.cfg.StatsInterval {
		t.flush()
	}
	if t.engine != nil {
		t.stepsSinceBuild++
		if t.cfg.RecomputeEvery > 0 && t.stepsSinceBuild >= t.cfg.RecomputeEvery && t.newBlocks > 0 ||
			t.cfg.RecomputeNewBlocks > 0 && t.newBlocks >= t.cfg.RecomputeNewBlocks {
			t.ComputeReachableUncovered()
		}
	}
}

// ComputeReachableUncovered rebuilds the distance table for the current
// coverage and refreshes the return distances of all live frames.
func (t *Tracker) ComputeReachableUncovered() *distance.Table {
	if t.engine == nil {
		return nil
	}
	start := time.Now()
	tab := t.engine.ComputeReachableUncovered(t.cov.IsCovered)
	t.rebuilds++
	t.stepsSinceBuild = 0
	t.newBlocks = 0
	for _, fs := range t.frames {
		d := distance.Unreachable
		for i := range fs {
			if fs[i].ra == program.NoInst {
				d = distance.Unreachable
			} else {
				d = tab.MinDistToUncovered(fs[i].ra, d)
			}
			fs[i].onReturn = d
		}
	}
	if t.cfg.Verbose >= 2 {
		log.Printf("distance table #%v: %v uncovered instructions, took %v", t.rebuilds, tab.Targets, time.Since(start))
	}
	return tab
}

// Distances returns the current distance table, nil if distances are not
// computed.
func (t *Tracker) Distances() *distance.Table {
	if t.engine == nil {
		return nil
	}
	return t.engine.Table()
}

func (t *Tracker) distAtReturn(path uint64) uint32 {
	fs := t.frames[path]
	if len(fs) == 0 {
		return distance.Unreachable
	}
	return fs[len(fs)-1].onReturn
}

// MinDistToUncovered returns the distance of es to uncovered code. A state
// that has not stepped yet is Unreachable.
func (t *Tracker) MinDistToUncovered(es ExecutionState) uint32 {
	tab := t.Distances()
	if tab == nil || es.PC() == program.NoInst {
		return distance.Unreachable
	}
	return tab.MinDistToUncovered(es.PC(), t.distAtReturn(es.ID()))
}

func (t *Tracker) Coverage() *coverage.Set      { return t.cov }
func (t *Tracker) Branches() *branch.Coverage   { return t.branches }
func (t *Tracker) CallPaths() *callpath.Tracker { return t.paths }

// Row returns the current statistics.
func (t *Tracker) Row() stats.Row {
	c := t.cov.Stats()
	b := t.branches.Totals()
	return stats.Row{
		Elapsed:               t.Elapsed(),
		Instructions:          t.instructions,
		CoveredInstructions:   t.coveredInsts,
		UncoveredInstructions: t.analyzedInsts - t.coveredInsts,
		Blocks:                c.Blocks,
		DefinedBlocks:         c.DefinedBlocks,
		Lines:                 c.Lines,
		DefinedLines:          c.DefinedLines,
		Branches:              b.Total,
		FullBranches:          b.Full,
		PartialBranches:       b.Partial,
		LivePaths:             t.paths.Live(),
		CallPathNodes:         t.paths.Len() - 1,
		DistanceRebuilds:      t.rebuilds,
	}
}

// flush writes a stats row and the coverage delta. Write failures lose the
// affected rows but never the in-memory counters.
func (t *Tracker) flush() {
	t.stepsSinceFlush = 0
	t.lastFlush = time.Now()
	row := t.Row()
	if err := t.writer.WriteLine(row); err != nil {
		log.Printf("failed to write stats: %v", err)
	}
	// The delta is kept for the next interval unless it reached the file.
	if err := t.writer.WriteBCStats(row.Elapsed, t.cov.Delta()); err != nil {
		log.Printf("failed to write bcstats: %v", err)
	} else {
		t.cov.ResetDelta()
	}
	if t.UseIStats() && t.cfg.IStatsInterval > 0 && time.Since(t.lastIStats) >= t.cfg.IStatsInterval {
		t.writeIStats()
	}
	if t.OnFlush != nil {
		t.OnFlush(row)
	}
}

func (t *Tracker) writeIStats() {
	t.lastIStats = time.Now()
	if err := t.writer.WriteIStats(t.IStats()); err != nil {
		log.Printf("failed to write istats: %v", err)
	}
}

// IStats aggregates per-line statistics of analyzed code and, with call
// paths enabled, per-chain statistics.
func (t *Tracker) IStats() stats.IStats {
	var dump stats.IStats
	index := make(map[program.SourceLoc]int)
	for i := 0; i < t.prog.NumInsts(); i++ {
		id := program.InstID(i)
		if !t.prog.Analyzed(id) {
			continue
		}
		loc := t.prog.Inst(id).Loc
		li, ok := index[loc]
		if !ok {
			li = len(dump.Lines)
			index[loc] = li
			dump.Lines = append(dump.Lines, stats.LineStat{File: loc.File, Line: loc.Line})
		}
		l := &dump.Lines[li]
		l.Instructions++
		if t.executed[i] {
			l.Covered++
		}
		if t.execCounts != nil {
			l.Count += t.execCounts[i]
		}
	}
	if t.cfg.CallPaths {
		t.paths.Walk(func(id callpath.NodeID, n *callpath.Node) {
			dump.CallPaths = append(dump.CallPaths, stats.CallPathStat{
				Chain:        t.paths.Name(t.prog, id),
				Calls:        n.Count,
				Instructions: n.Instructions,
			})
		})
	}
	return dump
}

// Done writes the final statistics and closes the output. It is safe to call
// more than once, for example from an interrupt handler and on normal exit.
func (t *Tracker) Done() error {
	if !t.active() {
		return nil
	}
	t.flush()
	if t.UseIStats() {
		t.writeIStats()
	}
	t.done = true
	t.paths.Release()
	t.frames = make(map[uint64][]frame)
	if err := t.writer.Done(); err != nil {
		return fmt.Errorf("failed to close stats: %w", err)
	}
	if t.cfg.Verbose >= 1 {
		log.Printf("done: %v instructions, %v/%v blocks covered, %v", t.instructions,
			t.cov.Stats().Blocks, t.prog.NumBlocks(), t.Elapsed())
	}
	return nil
}
