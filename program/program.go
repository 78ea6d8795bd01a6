// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package program is the read-only, index-addressed view of the analyzed
// program: functions containing basic blocks containing instructions.
// Blocks of a function and instructions of a block occupy contiguous
// index ranges, so per-instruction tables are plain slices.
package program

import (
	"fmt"
)

type (
	FuncID  int32
	BlockID int32
	InstID  int32
)

const (
	NoFunc  FuncID  = -1
	NoBlock BlockID = -1
	NoInst  InstID  = -1
)

type Kind uint8

const (
	Plain Kind = iota
	Branch
	Call
	Return
	Exit
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Branch:
		return "branch"
	case Call:
		return "call"
	case Return:
		return "return"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// SourceLoc is the human-facing coverage unit of an instruction.
type SourceLoc struct {
	File string
	Line int
}

func (l SourceLoc) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

type Inst struct {
	Block   BlockID
	Kind    Kind
	Callees []FuncID // internal targets of a call, empty if indirect or external
	Loc     SourceLoc
}

type Block struct {
	Func  FuncID
	First InstID // first instruction
	End   InstID // one past the last instruction
	Succs []BlockID
}

type Func struct {
	Name     string
	Analyzed bool // user code, as opposed to runtime/library code
	First    BlockID
	End      BlockID
}

// Program is immutable once built.
type Program struct {
	Object string

	funcs  []Func
	blocks []Block
	insts  []Inst
	byName map[string]FuncID

	// callSites[f] lists the call instructions that may transfer control to f.
	callSites [][]InstID
	// users[i] lists the instructions whose distance depends on instruction i:
	// control-flow predecessors, calls continuing at i and calls entering i.
	users [][]InstID
}

func (p *Program) NumFuncs() int  { return len(p.funcs) }
func (p *Program) NumBlocks() int { return len(p.blocks) }
func (p *Program) NumInsts() int  { return len(p.insts) }

func (p *Program) Func(f FuncID) *Func    { return &p.funcs[f] }
func (p *Program) Block(b BlockID) *Block { return &p.blocks[b] }
func (p *Program) Inst(i InstID) *Inst    { return &p.insts[i] }

// Lookup returns the function with the given name or NoFunc.
func (p *Program) Lookup(name string) FuncID {
	if f, ok := p.byName[name]; ok {
		return f
	}
	return NoFunc
}

// FuncOf returns the function containing instruction i.
func (p *Program) FuncOf(i InstID) FuncID {
	return p.blocks[p.insts[i].Block].Func
}

// Entry returns the first instruction of f, or NoInst for a function
// without a body.
func (p *Program) Entry(f FuncID) InstID {
	fn := &p.funcs[f]
	if fn.First == fn.End {
		return NoInst
	}
	return p.blocks[fn.First].First
}

// IsBlockStart reports whether i is the first instruction of its block.
func (p *Program) IsBlockStart(i InstID) bool {
	return p.blocks[p.insts[i].Block].First == i
}

// Analyzed reports whether instruction i belongs to analyzed code.
func (p *Program) Analyzed(i InstID) bool {
	return p.funcs[p.FuncOf(i)].Analyzed
}

// BlockLoc is the location of the block's first instruction.
func (p *Program) BlockLoc(b BlockID) SourceLoc {
	blk := &p.blocks[b]
	if blk.First == blk.End {
		return SourceLoc{File: p.funcs[blk.Func].Name}
	}
	return p.insts[blk.First].Loc
}

// Succs appends the intra-function successors of i to buf.
func (p *Program) Succs(buf []InstID, i InstID) []InstID {
	blk := &p.blocks[p.insts[i].Block]
	if i+1 < blk.End {
		return append(buf, i+1)
	}
	for _, s := range blk.Succs {
		sb := &p.blocks[s]
		if sb.First != sb.End {
			buf = append(buf, sb.First)
		}
	}
	return buf
}

// Continuation returns the instruction control reaches after a call at i
// returns, or NoInst if the call ends its block without successors.
func (p *Program) Continuation(i InstID) InstID {
	blk := &p.blocks[p.insts[i].Block]
	if i+1 < blk.End {
		return i + 1
	}
	for _, s := range blk.Succs {
		sb := &p.blocks[s]
		if sb.First != sb.End {
			return sb.First
		}
	}
	return NoInst
}

// CallSites returns the call instructions that may enter f.
func (p *Program) CallSites(f FuncID) []InstID { return p.callSites[f] }

// Users returns the instructions whose distance is computed from i.
func (p *Program) Users(i InstID) []InstID { return p.users[i] }

// FuncInsts returns the instruction range of f.
func (p *Program) FuncInsts(f FuncID) (first, end InstID) {
	fn := &p.funcs[f]
	if fn.First == fn.End {
		return 0, 0
	}
	return p.blocks[fn.First].First, p.blocks[fn.End-1].End
}

func (p *Program) link() {
	p.callSites = make([][]InstID, len(p.funcs))
	p.users = make([][]InstID, len(p.insts))
	var buf []InstID
	for i := range p.insts {
		id := InstID(i)
		inst := &p.insts[i]
		if inst.Kind == Call && len(inst.Callees) != 0 {
			for _, f := range inst.Callees {
				p.callSites[f] = append(p.callSites[f], id)
				if e := p.Entry(f); e != NoInst {
					p.users[e] = appendUnique(p.users[e], id)
				}
			}
			if c := p.Continuation(id); c != NoInst {
				p.users[c] = appendUnique(p.users[c], id)
			}
			continue
		}
		if inst.Kind == Return || inst.Kind == Exit {
			continue
		}
		buf = p.Succs(buf[:0], id)
		for _, s := range buf {
			p.users[s] = appendUnique(p.users[s], id)
		}
	}
}

func appendUnique(list []InstID, v InstID) []InstID {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
