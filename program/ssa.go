// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package program

import (
	"fmt"
	"go/token"
	"sort"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadPackages loads and type-checks the named packages with all their
// dependencies and converts the whole SSA program. Functions of the named
// packages are analyzed code; everything else is library code.
func LoadPackages(dir string, patterns ...string) (*Program, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedCompiledGoFiles |
			packages.NeedImports |
			packages.NeedDeps |
			packages.NeedTypes |
			packages.NeedSyntax |
			packages.NeedTypesInfo |
			packages.NeedTypesSizes,
		Dir: dir,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages matched %v", patterns)
	}
	prog, initial := ssautil.AllPackages(pkgs, 0)
	prog.Build()

	user := make(map[*ssa.Package]bool)
	for _, p := range initial {
		if p != nil {
			user[p] = true
		}
	}
	object := pkgs[0].PkgPath
	return FromSSA(prog, object, func(fn *ssa.Function) bool {
		return fn.Synthetic == "" && fn.Pkg != nil && user[fn.Pkg]
	})
}

// FromSSA converts every function of an SSA program. analyzed selects the
// functions that count as analyzed (defined) code.
func FromSSA(prog *ssa.Program, object string, analyzed func(*ssa.Function) bool) (*Program, error) {
	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool {
		return fns[i].String() < fns[j].String()
	})

	b := NewBuilder(object)
	seen := make(map[string]bool)
	for _, fn := range fns {
		name := fn.String()
		if seen[name] {
			continue
		}
		seen[name] = true
		b.AddFunc(name, len(fn.Blocks) != 0 && analyzed(fn))
		loc := position(prog.Fset, fn.Pos(), SourceLoc{File: name})
		for _, blk := range fn.Blocks {
			succs := make([]int, len(blk.Succs))
			for i, s := range blk.Succs {
				succs[i] = s.Index
			}
			b.AddBlock(succs...)
			for _, instr := range blk.Instrs {
				loc = position(prog.Fset, instr.Pos(), loc)
				kind, callee := ssaKind(instr)
				if callee != "" {
					b.AddInst(kind, loc, callee)
				} else {
					b.AddInst(kind, loc)
				}
			}
		}
	}
	return b.Finish()
}

func ssaKind(instr ssa.Instruction) (Kind, string) {
	switch instr := instr.(type) {
	case *ssa.If:
		return Branch, ""
	case *ssa.Return:
		return Return, ""
	case *ssa.Panic:
		return Exit, ""
	case *ssa.Call:
		// Go and Defer do not transfer control at the instruction itself.
		if callee := instr.Call.StaticCallee(); callee != nil {
			return Call, callee.String()
		}
		return Call, ""
	}
	return Plain, ""
}

// position resolves pos, falling back to the previous location for
// instructions without one.
func position(fset *token.FileSet, pos token.Pos, prev SourceLoc) SourceLoc {
	if !pos.IsValid() {
		return prev
	}
	p := fset.Position(pos)
	return SourceLoc{File: p.Filename, Line: p.Line}
}
