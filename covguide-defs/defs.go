// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package defs holds the wire types shared by covguide-build, covguide and
// host engines: program metadata and recorded trace events.
package defs

const (
	MetaFile = "program.json"

	DefaultStatsCommitEvery = 16
)

// Instruction kinds.
const (
	InstPlain = iota
	InstBranch
	InstCall
	InstReturn
	InstExit // terminator without successors that does not return (panic, unreachable)
)

type InstMeta struct {
	Kind    int
	File    string
	Line    int
	Callees []string `json:",omitempty"`
}

type BlockMeta struct {
	Succs []int // indices into the enclosing function's Blocks
	Insts []InstMeta
}

type FuncMeta struct {
	Name     string
	Analyzed bool
	Blocks   []BlockMeta
}

type MetaData struct {
	Object string
	Funcs  []FuncMeta
}

// Trace event operations.
const (
	OpPush   = "push"
	OpPop    = "pop"
	OpStep   = "step"
	OpBranch = "branch"
	OpFork   = "fork"
	OpExit   = "exit"
)

// Event is one line of a recorded path trace.
// Instruction and call-site references are global instruction indices
// in metadata order (functions, then blocks, then instructions).
type Event struct {
	Op     string
	Path   uint64
	PC     int    `json:",omitempty"` // step
	Caller int    `json:",omitempty"` // push: call site, -1 for the entry frame
	Func   string `json:",omitempty"` // push
	Child  uint64 `json:",omitempty"` // fork
	True   bool   `json:",omitempty"` // branch
	False  bool   `json:",omitempty"` // branch
}
