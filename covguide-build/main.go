// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	. "github.com/covguide/covguide/covguide-defs"
	"github.com/covguide/covguide/program"
)

var (
	flagOut     = flag.String("o", MetaFile, "output metadata file")
	flagLattice = flag.String("lattice", "", "read control-flow graphs from a lattice JSON file instead of Go packages")
	flagObject  = flag.String("object", "", "object name recorded in metadata (default: first package path or lattice file name)")
	flagDot     = flag.String("dot", "", "write call graph and per-function CFG DOT files to this dir")
	flagV       = flag.Int("v", 0, "verbosity level")
)

// Loads the program, converts it to the index-addressed form and writes the
// metadata consumed by covguide and host engines.
func main() {
	flag.Parse()
	var prog *program.Program
	var err error
	if *flagLattice != "" {
		prog, err = loadLattice(*flagLattice)
	} else {
		if flag.NArg() == 0 {
			failf("usage: covguide-build [flags] pkg...")
		}
		prog, err = program.LoadPackages("", flag.Args()...)
	}
	if err != nil {
		failf("%v", err)
	}
	if *flagObject != "" {
		prog.Object = *flagObject
	}

	data, err := json.MarshalIndent(prog.Meta(), "", "\t")
	if err != nil {
		failf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(*flagOut, data, 0640); err != nil {
		failf("failed to write metadata: %v", err)
	}
	if *flagDot != "" {
		if err := writeDot(prog, *flagDot); err != nil {
			failf("%v", err)
		}
	}
	if *flagV >= 1 {
		analyzed := 0
		for f := 0; f < prog.NumFuncs(); f++ {
			if prog.Func(program.FuncID(f)).Analyzed {
				analyzed++
			}
		}
		fmt.Fprintf(os.Stderr, "%v: %v functions (%v analyzed), %v blocks, %v instructions\n",
			prog.Object, prog.NumFuncs(), analyzed, prog.NumBlocks(), prog.NumInsts())
	}
}

func loadLattice(file string) (*program.Program, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read lattice file: %w", err)
	}
	g := new(lattice.CFGGraph)
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("failed to parse lattice file %v: %w", file, err)
	}
	object := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return program.FromLattice(g, object)
}

func writeDot(prog *program.Program, dir string) error {
	cfgDir := filepath.Join(dir, "cfg")
	if err := os.MkdirAll(cfgDir, 0750); err != nil {
		return fmt.Errorf("mkdir cfg: %w", err)
	}
	cg := prog.LatticeCallGraph()
	if err := os.WriteFile(filepath.Join(dir, "callgraph.dot"), []byte(render.DOT(cg, prog.Object)), 0640); err != nil {
		return fmt.Errorf("write callgraph.dot: %w", err)
	}
	n := 0
	for _, fn := range prog.ToLattice().Funcs {
		if len(fn.Blocks) < 2 {
			continue
		}
		g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{fn}}
		name := strings.NewReplacer("/", "_", "*", "", "(", "", ")", "", " ", "_").Replace(fn.Name)
		if err := os.WriteFile(filepath.Join(cfgDir, name+".dot"), []byte(render.DOTCFG(g, fn.Name)), 0640); err != nil {
			return fmt.Errorf("write cfg dot %s: %w", fn.Name, err)
		}
		n++
	}
	if *flagV >= 1 {
		fmt.Fprintf(os.Stderr, "wrote call graph (%v nodes, %v edges) and %v CFGs to %v\n",
			len(cg.Nodes), len(cg.Edges), n, dir)
	}
	return nil
}

func failf(str string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, str+"\n", args...)
	os.Exit(1)
}
