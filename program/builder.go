// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package program

import (
	"fmt"
)

// Builder assembles a Program function by function. Blocks are added to the
// most recently added function and instructions to the most recent block.
// Successors and call targets may refer to blocks and functions added later;
// they are resolved by Finish.
type Builder struct {
	p       *Program
	succs   map[BlockID][]int // function-relative successor indices
	callees map[InstID][]string
	err     error
}

func NewBuilder(object string) *Builder {
	return &Builder{
		p: &Program{
			Object: object,
			byName: make(map[string]FuncID),
		},
		succs:   make(map[BlockID][]int),
		callees: make(map[InstID][]string),
	}
}

func (b *Builder) AddFunc(name string, analyzed bool) FuncID {
	p := b.p
	if _, ok := p.byName[name]; ok && b.err == nil {
		b.err = fmt.Errorf("duplicate function %q", name)
	}
	id := FuncID(len(p.funcs))
	p.funcs = append(p.funcs, Func{
		Name:     name,
		Analyzed: analyzed,
		First:    BlockID(len(p.blocks)),
		End:      BlockID(len(p.blocks)),
	})
	p.byName[name] = id
	return id
}

// AddBlock adds a block to the current function. succs are indices of
// blocks within the same function, counting from its first block.
func (b *Builder) AddBlock(succs ...int) BlockID {
	p := b.p
	if len(p.funcs) == 0 {
		if b.err == nil {
			b.err = fmt.Errorf("block added before any function")
		}
		return NoBlock
	}
	f := FuncID(len(p.funcs) - 1)
	id := BlockID(len(p.blocks))
	p.blocks = append(p.blocks, Block{
		Func:  f,
		First: InstID(len(p.insts)),
		End:   InstID(len(p.insts)),
	})
	p.funcs[f].End = id + 1
	if len(succs) != 0 {
		b.succs[id] = append([]int(nil), succs...)
	}
	return id
}

// AddInst adds an instruction to the current block. For calls, callees
// name the possible internal targets.
func (b *Builder) AddInst(kind Kind, loc SourceLoc, callees ...string) InstID {
	p := b.p
	if len(p.funcs) == 0 || len(p.blocks) <= int(p.funcs[len(p.funcs)-1].First) {
		if b.err == nil {
			b.err = fmt.Errorf("instruction added before any block")
		}
		return NoInst
	}
	blk := BlockID(len(p.blocks) - 1)
	id := InstID(len(p.insts))
	p.insts = append(p.insts, Inst{Block: blk, Kind: kind, Loc: loc})
	p.blocks[blk].End = id + 1
	if kind == Call && len(callees) != 0 {
		b.callees[id] = append([]string(nil), callees...)
	}
	return id
}

// Finish resolves successors and call targets and returns the program.
// Every block must hold at least one instruction.
// Call targets naming unknown functions or functions without a body are
// dropped: such calls fall through to their continuation.
func (b *Builder) Finish() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := b.p
	for i := range p.blocks {
		blk := &p.blocks[i]
		if blk.First == blk.End {
			fn := &p.funcs[blk.Func]
			return nil, fmt.Errorf("function %v: block %v has no instructions", fn.Name, BlockID(i)-fn.First)
		}
	}
	for blk, succs := range b.succs {
		fn := &p.funcs[p.blocks[blk].Func]
		for _, s := range succs {
			id := fn.First + BlockID(s)
			if s < 0 || id >= fn.End {
				return nil, fmt.Errorf("function %v: block %v: bad successor %v", fn.Name, blk-fn.First, s)
			}
			p.blocks[blk].Succs = append(p.blocks[blk].Succs, id)
		}
	}
	for inst, names := range b.callees {
		for _, name := range names {
			f, ok := p.byName[name]
			if !ok || p.Entry(f) == NoInst {
				continue
			}
			p.insts[inst].Callees = appendFunc(p.insts[inst].Callees, f)
		}
	}
	p.link()
	b.p = nil
	return p, nil
}

func appendFunc(list []FuncID, f FuncID) []FuncID {
	for _, x := range list {
		if x == f {
			return list
		}
	}
	return append(list, f)
}
