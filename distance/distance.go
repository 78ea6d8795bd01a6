// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package distance computes, for every instruction, the minimum number of
// steps to reach an instruction in a block that is not covered yet.
//
// A table holds two numbers per instruction: Local, the distance to uncovered
// code without returning from the enclosing function, and ToReturn, the
// distance to a return of the enclosing function. The distance of a running
// path combines both with the distances at the return addresses of its stack,
// see MinDistToUncovered and ForStack.
package distance

import (
	"math"
	"sync/atomic"

	"github.com/covguide/covguide/program"
)

// Unreachable means no uncovered code can be reached.
const Unreachable uint32 = math.MaxUint32

// add is saturating addition, Unreachable absorbs everything.
func add(a, b uint32) uint32 {
	s := a + b
	if a == Unreachable || b == Unreachable || s < a {
		return Unreachable
	}
	return s
}

// Table is immutable once published.
type Table struct {
	Local    []uint32
	ToReturn []uint32
	Targets  int // instructions in uncovered blocks
}

// MinDistToUncovered returns the distance from inst given the distance at
// the return address of its frame (Unreachable for the outermost frame).
func (t *Table) MinDistToUncovered(inst program.InstID, distAtRA uint32) uint32 {
	return min(t.Local[inst], add(add(t.ToReturn[inst], 1), distAtRA))
}

// ForStack returns the distance of a path at pc whose callers resume at
// returnAddrs, ordered from the outermost frame inward. NoInst entries stand
// for calls that never resume.
func (t *Table) ForStack(pc program.InstID, returnAddrs []program.InstID) uint32 {
	d := Unreachable
	for _, ra := range returnAddrs {
		if ra == program.NoInst {
			d = Unreachable
			continue
		}
		d = t.MinDistToUncovered(ra, d)
	}
	return t.MinDistToUncovered(pc, d)
}

type Engine struct {
	prog  *program.Program
	comps []program.Component
	table atomic.Value // *Table
}

func NewEngine(p *program.Program) *Engine {
	return &Engine{prog: p, comps: p.BottomUp()}
}

// Table returns the most recently published table, nil before the first
// computation.
func (e *Engine) Table() *Table {
	t, _ := e.table.Load().(*Table)
	return t
}

// ComputeReachableUncovered builds a new table for the given coverage and
// publishes it. Only blocks of analyzed functions are targets; library code
// is traversed but never counts as uncovered.
//
// Components of the call graph are solved callees first, so the entry
// distances of every called function outside the current component are
// final. Inside a component a worklist runs to the fixed point: an
// instruction is re-evaluated when something it depends on got strictly
// shorter.
func (e *Engine) ComputeReachableUncovered(covered func(program.BlockID) bool) *Table {
	p := e.prog
	n := p.NumInsts()
	t := &Table{
		Local:    make([]uint32, n),
		ToReturn: make([]uint32, n),
	}
	target := make([]bool, p.NumBlocks())
	for b := range target {
		id := program.BlockID(b)
		target[b] = p.Func(p.Block(id).Func).Analyzed && !covered(id)
	}
	for i := 0; i < n; i++ {
		inst := p.Inst(program.InstID(i))
		t.Local[i] = Unreachable
		t.ToReturn[i] = Unreachable
		if target[inst.Block] {
			t.Local[i] = 0
			t.Targets++
		}
		if inst.Kind == program.Return {
			t.ToReturn[i] = 0
		}
	}

	compOf := make([]int, p.NumFuncs())
	for ci, comp := range e.comps {
		for _, f := range comp.Funcs {
			compOf[f] = ci
		}
	}
	queued := make([]bool, n)
	var queue, buf []program.InstID
	for ci, comp := range e.comps {
		queue = queue[:0]
		for _, f := range comp.Funcs {
			first, end := p.FuncInsts(f)
			// Backwards, so successors tend to be settled first.
			for i := end - 1; i >= first; i-- {
				queue = append(queue, i)
				queued[i] = true
			}
		}
		for head := 0; head < len(queue); head++ {
			i := queue[head]
			queued[i] = false
			local, ret := t.eval(p, target, i, &buf)
			if local >= t.Local[i] && ret >= t.ToReturn[i] {
				continue
			}
			t.Local[i] = min(t.Local[i], local)
			t.ToReturn[i] = min(t.ToReturn[i], ret)
			for _, u := range p.Users(i) {
				if !queued[u] && compOf[p.FuncOf(u)] == ci {
					queued[u] = true
					queue = append(queue, u)
				}
			}
		}
	}
	e.table.Store(t)
	return t
}

// eval derives both distances of i from the current values of the
// instructions it depends on.
func (t *Table) eval(p *program.Program, target []bool, i program.InstID, buf *[]program.InstID) (local, ret uint32) {
	inst := p.Inst(i)
	local, ret = Unreachable, Unreachable
	if target[inst.Block] {
		local = 0
	}
	switch inst.Kind {
	case program.Return:
		return local, 0
	case program.Exit:
		return local, Unreachable
	case program.Call:
		if len(inst.Callees) == 0 {
			break
		}
		// Either find uncovered code inside the callee, or run through it
		// and continue after the call.
		cont := p.Continuation(i)
		for _, f := range inst.Callees {
			entry := p.Entry(f)
			local = min(local, add(1, t.Local[entry]))
			if cont == program.NoInst {
				continue
			}
			through := add(t.ToReturn[entry], 2)
			local = min(local, add(through, t.Local[cont]))
			ret = min(ret, add(through, t.ToReturn[cont]))
		}
		return local, ret
	}
	*buf = p.Succs((*buf)[:0], i)
	for _, s := range *buf {
		local = min(local, add(1, t.Local[s]))
		ret = min(ret, add(1, t.ToReturn[s]))
	}
	return local, ret
}
