// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package program

import (
	"encoding/json"
	"fmt"
	"os"

	. "github.com/covguide/covguide/covguide-defs"
)

// FromMeta builds a program from covguide-build metadata.
func FromMeta(meta *MetaData) (*Program, error) {
	b := NewBuilder(meta.Object)
	for _, fn := range meta.Funcs {
		b.AddFunc(fn.Name, fn.Analyzed)
		for _, blk := range fn.Blocks {
			b.AddBlock(blk.Succs...)
			for _, inst := range blk.Insts {
				kind, err := kindOf(inst.Kind)
				if err != nil {
					return nil, fmt.Errorf("function %v: %w", fn.Name, err)
				}
				b.AddInst(kind, SourceLoc{inst.File, inst.Line}, inst.Callees...)
			}
		}
	}
	return b.Finish()
}

// Meta converts the program back to metadata.
func (p *Program) Meta() *MetaData {
	meta := &MetaData{Object: p.Object}
	for f := range p.funcs {
		fn := &p.funcs[f]
		fm := FuncMeta{Name: fn.Name, Analyzed: fn.Analyzed}
		for b := fn.First; b < fn.End; b++ {
			blk := &p.blocks[b]
			var bm BlockMeta
			for _, s := range blk.Succs {
				bm.Succs = append(bm.Succs, int(s-fn.First))
			}
			for i := blk.First; i < blk.End; i++ {
				inst := &p.insts[i]
				im := InstMeta{Kind: int(inst.Kind), File: inst.Loc.File, Line: inst.Loc.Line}
				for _, c := range inst.Callees {
					im.Callees = append(im.Callees, p.funcs[c].Name)
				}
				bm.Insts = append(bm.Insts, im)
			}
			fm.Blocks = append(fm.Blocks, bm)
		}
		meta.Funcs = append(meta.Funcs, fm)
	}
	return meta
}

// ReadMeta loads a program from a metadata file written by covguide-build.
func ReadMeta(file string) (*Program, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	meta := new(MetaData)
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %v: %w", file, err)
	}
	return FromMeta(meta)
}

func kindOf(k int) (Kind, error) {
	switch k {
	case InstPlain:
		return Plain, nil
	case InstBranch:
		return Branch, nil
	case InstCall:
		return Call, nil
	case InstReturn:
		return Return, nil
	case InstExit:
		return Exit, nil
	}
	return 0, fmt.Errorf("unknown instruction kind %v", k)
}
