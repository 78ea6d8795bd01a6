// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package program

import (
	"fmt"

	"github.com/zboralski/lattice"
)

// FromLattice builds a program from lattice control-flow graphs, such as
// those produced by binary lifters. Lattice blocks carry instruction index
// ranges but no source lines, so locations are function:index.
// A block with two successors ends in a branch; a terminal block without
// successors ends in a return.
func FromLattice(g *lattice.CFGGraph, object string) (*Program, error) {
	b := NewBuilder(object)
	for _, fn := range g.Funcs {
		b.AddFunc(fn.Name, true)
		index := make(map[int]int, len(fn.Blocks))
		for i, blk := range fn.Blocks {
			index[blk.ID] = i
		}
		for _, blk := range fn.Blocks {
			succs := make([]int, 0, len(blk.Succs))
			for _, s := range blk.Succs {
				i, ok := index[s.BlockID]
				if !ok {
					return nil, fmt.Errorf("function %v: block %v: unknown successor %v", fn.Name, blk.ID, s.BlockID)
				}
				succs = append(succs, i)
			}
			b.AddBlock(succs...)
			calls := make(map[int][]string)
			for _, c := range blk.Calls {
				calls[c.Offset] = append(calls[c.Offset], c.Callee)
			}
			end := blk.End
			if end <= blk.Start {
				end = blk.Start + 1
			}
			for idx := blk.Start; idx < end; idx++ {
				loc := SourceLoc{File: fn.Name, Line: idx}
				kind := Plain
				switch {
				case calls[idx] != nil:
					kind = Call
				case idx == end-1 && len(blk.Succs) == 2:
					kind = Branch
				case idx == end-1 && len(blk.Succs) == 0 && blk.Term:
					kind = Return
				}
				b.AddInst(kind, loc, calls[idx]...)
			}
		}
	}
	return b.Finish()
}

// ToLattice converts the control-flow graphs of all functions with a body.
// Instruction offsets are relative to the function's first instruction.
func (p *Program) ToLattice() *lattice.CFGGraph {
	g := &lattice.CFGGraph{}
	for f := range p.funcs {
		fn := &p.funcs[f]
		if fn.First == fn.End {
			continue
		}
		base := p.blocks[fn.First].First
		lf := &lattice.FuncCFG{Name: fn.Name}
		for b := fn.First; b < fn.End; b++ {
			blk := &p.blocks[b]
			lb := &lattice.BasicBlock{
				ID:    int(b - fn.First),
				Start: int(blk.First - base),
				End:   int(blk.End - base),
				Term:  len(blk.Succs) == 0,
			}
			branch := blk.First != blk.End && p.insts[blk.End-1].Kind == Branch && len(blk.Succs) == 2
			for i, s := range blk.Succs {
				cond := ""
				if branch {
					cond = "F"
					if i == 0 {
						cond = "T"
					}
				}
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: int(s - fn.First), Cond: cond})
			}
			for i := blk.First; i < blk.End; i++ {
				for _, c := range p.insts[i].Callees {
					lb.Calls = append(lb.Calls, lattice.CallSite{Offset: int(i - base), Callee: p.funcs[c].Name})
				}
			}
			lf.Blocks = append(lf.Blocks, lb)
		}
		g.Funcs = append(g.Funcs, lf)
	}
	return g
}

// LatticeCallGraph returns the static call graph in lattice form.
func (p *Program) LatticeCallGraph() *lattice.Graph {
	g := &lattice.Graph{}
	for f := range p.funcs {
		g.Nodes = append(g.Nodes, p.funcs[f].Name)
	}
	for i := range p.insts {
		inst := &p.insts[i]
		for _, c := range inst.Callees {
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: p.funcs[p.FuncOf(InstID(i))].Name,
				Callee: p.funcs[c].Name,
			})
		}
	}
	g.Dedup()
	return g
}
