// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package distance

import (
	"testing"

	"github.com/covguide/covguide/program"
	"github.com/stretchr/testify/require"
)

const U = Unreachable

type inst struct {
	kind    program.Kind
	callees []string
}

type block struct {
	succs []int
	insts []inst
}

type fn struct {
	name     string
	analyzed bool
	blocks   []block
}

func build(t *testing.T, fns ...fn) *program.Program {
	b := program.NewBuilder("test")
	for _, f := range fns {
		b.AddFunc(f.name, f.analyzed)
		for bi, blk := range f.blocks {
			b.AddBlock(blk.succs...)
			for ii, in := range blk.insts {
				b.AddInst(in.kind, program.SourceLoc{File: f.name, Line: bi*10 + ii}, in.callees...)
			}
		}
	}
	p, err := b.Finish()
	require.NoError(t, err)
	return p
}

func coveredSet(blocks ...program.BlockID) func(program.BlockID) bool {
	m := make(map[program.BlockID]bool)
	for _, b := range blocks {
		m[b] = true
	}
	return func(b program.BlockID) bool { return m[b] }
}

func plain() inst { return inst{kind: program.Plain} }
func br() inst { return inst{kind: program.Branch} }
func ret() inst { return inst{kind: program.Return} }
func call(f ...string) inst { return inst{kind: program.Call, callees: f} }
func blk(succs []int, insts ...inst) block { return block{succs, insts} }

// twoFuncs: main is fully explored and calls g, which never ran.
func twoFuncs(t *testing.T, gAnalyzed bool) *program.Program {
	return build(t,
		fn{"main", true, []block{
			blk([]int{1, 2}, plain(), br()), // 0, 1
			blk(nil, call("g"), ret()),      // 2, 3
			blk(nil, ret()),                 // 4
		}},
		fn{"g", gAnalyzed, []block{
			blk(nil, plain(), ret()), // 5, 6
		}},
	)
}

func TestCallIntoUnexplored(t *testing.T) {
	p := twoFuncs(t, true)
	e := NewEngine(p)
	require.Nil(t, e.Table())
	tab := e.ComputeReachableUncovered(coveredSet(0, 1, 2))
	require.Same(t, tab, e.Table())
	require.Equal(t, []uint32{3, 2, 1, U, U, 0, 0}, tab.Local)
	require.Equal(t, 2, tab.Targets)
	checkTable(t, p, tab, coveredSet(0, 1, 2))
}

func TestLibraryCodeIsNotTarget(t *testing.T) {
	p := twoFuncs(t, false)
	tab := NewEngine(p).ComputeReachableUncovered(coveredSet(0, 1, 2))
	for i, d := range tab.Local {
		if d != U {
			t.Fatalf("Local[%v] = %v, want unreachable", i, d)
		}
	}
}

func TestFullyCovered(t *testing.T) {
	p := twoFuncs(t, true)
	tab := NewEngine(p).ComputeReachableUncovered(func(program.BlockID) bool { return true })
	require.Equal(t, 0, tab.Targets)
	for i := 0; i < p.NumInsts(); i++ {
		id := program.InstID(i)
		if d := tab.MinDistToUncovered(id, U); d != U {
			t.Fatalf("MinDistToUncovered(%v) = %v, want unreachable", i, d)
		}
	}
}

func TestSelfRecursion(t *testing.T) {
	p := build(t,
		fn{"f", true, []block{
			blk([]int{1, 2}, br()),   // 0
			blk([]int{3}, call("f")), // 1
			blk(nil, ret()),          // 2
			blk(nil, plain(), ret()), // 3, 4
		}},
	)
	covered := coveredSet(0, 1, 2)
	tab := NewEngine(p).ComputeReachableUncovered(covered)
	require.Equal(t, []uint32{4, 3, U, 0, 0}, tab.Local)
	require.Equal(t, []uint32{1, 4, 0, 1, 0}, tab.ToReturn)
	checkTable(t, p, tab, covered)
}

func TestStackFolding(t *testing.T) {
	p := build(t,
		fn{"main", true, []block{
			blk([]int{1}, call("h"), plain()), // 0, 1
			blk(nil, plain(), ret()),          // 2, 3
		}},
		fn{"h", true, []block{
			blk(nil, plain(), ret()), // 4, 5
		}},
	)
	covered := coveredSet(0, 2)
	tab := NewEngine(p).ComputeReachableUncovered(covered)
	require.Equal(t, uint32(4), tab.Local[0])
	require.Equal(t, U, tab.Local[4])

	tests := []struct {
		pc   program.InstID
		ras  []program.InstID
		want uint32
	}{
		{4, []program.InstID{1}, 3},
		{5, []program.InstID{1}, 2},
		{4, []program.InstID{program.NoInst}, U},
		{4, nil, U},
		{0, nil, 4},
		{2, nil, 0},
	}
	for _, test := range tests {
		if got := tab.ForStack(test.pc, test.ras); got != test.want {
			t.Fatalf("ForStack(%v, %v) = %v, want %v", test.pc, test.ras, got, test.want)
		}
	}
	checkTable(t, p, tab, covered)
}

func TestRebuildAfterGrowth(t *testing.T) {
	p := build(t,
		fn{"main", true, []block{
			blk([]int{1, 2}, plain(), br()),        // 0, 1
			blk([]int{3}, call("a", "b"), plain()), // 2, 3
			blk([]int{1}, plain()),                 // 4
			blk(nil, ret()),                        // 5
		}},
		fn{"a", true, []block{
			blk([]int{1}, plain()),     // 6
			blk(nil, call("b"), ret()), // 7, 8
		}},
		fn{"b", true, []block{
			blk(nil, call("a"), ret()), // 9, 10
		}},
	)
	e := NewEngine(p)
	covers := [][]program.BlockID{
		{},
		{0},
		{0, 2},
		{0, 1, 2},
		{0, 1, 2, 3, 4},
		{0, 1, 2, 3, 4, 5, 6},
	}
	prev := e.ComputeReachableUncovered(coveredSet())
	for _, c := range covers {
		covered := coveredSet(c...)
		tab := e.ComputeReachableUncovered(covered)
		checkTable(t, p, tab, covered)
		require.NotSame(t, prev, tab)
		prev = tab
	}
}

// checkTable verifies the invariants of a table: uncovered instructions are
// at distance 0 and every finite positive distance has a next step one
// closer.
func checkTable(t *testing.T, p *program.Program, tab *Table, covered func(program.BlockID) bool) {
	t.Helper()
	for i := 0; i < p.NumInsts(); i++ {
		id := program.InstID(i)
		in := p.Inst(id)
		d := tab.Local[i]
		target := p.Func(p.Block(in.Block).Func).Analyzed && !covered(in.Block)
		if target && d != 0 {
			t.Fatalf("inst %v in uncovered block has distance %v", i, d)
		}
		if d == 0 || d == U {
			continue
		}
		found := false
		if in.Kind == program.Call && len(in.Callees) != 0 {
			cont := p.Continuation(id)
			for _, f := range in.Callees {
				ra := U
				if cont != program.NoInst {
					ra = tab.Local[cont]
				}
				if tab.MinDistToUncovered(p.Entry(f), ra) == d-1 {
					found = true
				}
			}
		} else {
			for _, s := range p.Succs(nil, id) {
				if tab.Local[s] == d-1 {
					found = true
				}
			}
		}
		if !found {
			t.Fatalf("inst %v at distance %v has no next step at distance %v", i, d, d-1)
		}
	}
}
