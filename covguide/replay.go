// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	. "github.com/covguide/covguide/covguide-defs"
	"github.com/covguide/covguide/program"
	"github.com/covguide/covguide/tracker"
)

// TraceSet is the set of trace files in a dir, deduplicated by content.
type TraceSet struct {
	dir string
	m   map[Sig]Trace
}

type Trace struct {
	name string
	data []byte
}

type Sig [sha1.Size]byte

func hash(data []byte) Sig {
	return Sig(sha1.Sum(data))
}

func readTraceSet(dir string) *TraceSet {
	ts := &TraceSet{
		dir: dir,
		m:   make(map[Sig]Trace),
	}
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("error during dir walk: %v", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("error during file read: %v", err)
			return nil
		}
		sig := hash(data)
		if _, ok := ts.m[sig]; ok {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		ts.m[sig] = Trace{rel, data}
		return nil
	})
	return ts
}

// sorted returns the traces ordered by file name.
func (ts *TraceSet) sorted() []Trace {
	traces := make([]Trace, 0, len(ts.m))
	for _, t := range ts.m {
		traces = append(traces, t)
	}
	sort.Slice(traces, func(i, j int) bool {
		return traces[i].name < traces[j].name
	})
	return traces
}

type replayFrame struct {
	caller program.InstID
	fn     program.FuncID
}

func (f replayFrame) Caller() program.InstID   { return f.caller }
func (f replayFrame) Function() program.FuncID { return f.fn }

// replayState is an execution path reconstructed from trace events.
type replayState struct {
	id     uint64
	pc     program.InstID
	frames []replayFrame
}

func (s *replayState) ID() uint64         { return s.id }
func (s *replayState) PC() program.InstID { return s.pc }
func (s *replayState) Frame() tracker.StackFrame {
	if len(s.frames) == 0 {
		return replayFrame{program.NoInst, program.NoFunc}
	}
	return s.frames[len(s.frames)-1]
}

// replayer feeds recorded events to the tracker. Path ids are local to one
// trace; paths still alive at the end of a trace are terminated.
type replayer struct {
	prog   *program.Program
	tr     *tracker.Tracker
	states map[uint64]*replayState
}

func newReplayer(prog *program.Program, tr *tracker.Tracker) *replayer {
	return &replayer{prog: prog, tr: tr}
}

func (r *replayer) replay(data []byte) error {
	r.states = make(map[uint64]*replayState)
	defer func() {
		for _, s := range r.states {
			r.tr.StateTerminated(s)
		}
	}()
	dec := json.NewDecoder(bytes.NewReader(data))
	for n := 1; atomic.LoadUint32(&shutdown) == 0; n++ {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("event #%v: %w", n, err)
		}
		if err := r.apply(&ev); err != nil {
			return fmt.Errorf("event #%v: %w", n, err)
		}
	}
	return nil
}

func (r *replayer) state(id uint64) *replayState {
	s := r.states[id]
	if s == nil {
		s = &replayState{id: id, pc: program.NoInst}
		r.states[id] = s
	}
	return s
}

func (r *replayer) apply(ev *Event) error {
	s := r.state(ev.Path)
	switch ev.Op {
	case OpPush:
		fn := r.prog.Lookup(ev.Func)
		if fn == program.NoFunc {
			return fmt.Errorf("unknown function %q", ev.Func)
		}
		caller := program.InstID(ev.Caller)
		if caller < program.NoInst || int(caller) >= r.prog.NumInsts() {
			return fmt.Errorf("bad call site %v", ev.Caller)
		}
		var parent tracker.StackFrame
		if len(s.frames) != 0 {
			parent = s.Frame()
		} else {
			caller = program.NoInst
		}
		s.frames = append(s.frames, replayFrame{caller, fn})
		r.tr.FramePushed(s, parent)
	case OpPop:
		if len(s.frames) == 0 {
			return fmt.Errorf("pop of empty stack on path %v", ev.Path)
		}
		r.tr.FramePopped(s)
		s.frames = s.frames[:len(s.frames)-1]
	case OpStep:
		if ev.PC < 0 || ev.PC >= r.prog.NumInsts() {
			return fmt.Errorf("bad pc %v", ev.PC)
		}
		s.pc = program.InstID(ev.PC)
		r.tr.StepInstruction(s)
	case OpBranch:
		if !ev.True && !ev.False {
			return fmt.Errorf("branch event without outcome")
		}
		r.tr.MarkBranchVisited(ev.True, ev.False)
	case OpFork:
		if _, ok := r.states[ev.Child]; ok {
			return fmt.Errorf("fork into live path %v", ev.Child)
		}
		child := &replayState{id: ev.Child, pc: s.pc, frames: append([]replayFrame(nil), s.frames...)}
		r.states[ev.Child] = child
		r.tr.StateForked(s, child)
	case OpExit:
		r.tr.StateTerminated(s)
		delete(r.states, ev.Path)
	default:
		return fmt.Errorf("unknown op %q", ev.Op)
	}
	return nil
}
