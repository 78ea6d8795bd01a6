// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package callpath attributes execution to call chains.
//
// Call chains form a trie shared by all execution paths: a node is identified
// by its parent, the call site and the called function. Each path keeps the
// stack of nodes of its live frames and holds one reference on every node of
// that stack.
package callpath

import (
	"strings"

	"github.com/covguide/covguide/program"
)

type NodeID int32

// Root is the empty call chain that every path starts in.
const Root NodeID = 0

type Node struct {
	Parent   NodeID
	CallSite program.InstID
	Func     program.FuncID

	Refs         int    // live frames referring to the node
	Count        uint64 // calls along this chain
	Instructions uint64 // instructions executed with this chain on top
}

type edge struct {
	parent NodeID
	site   program.InstID
	fn     program.FuncID
}

type Tracker struct {
	nodes    []Node
	children map[edge]NodeID
	stacks   map[uint64][]NodeID
}

func New() *Tracker {
	t := &Tracker{}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.nodes = []Node{{Parent: Root, CallSite: program.NoInst, Func: program.NoFunc}}
	t.children = make(map[edge]NodeID)
	t.stacks = make(map[uint64][]NodeID)
}

func (t *Tracker) child(parent NodeID, site program.InstID, fn program.FuncID) NodeID {
	e := edge{parent, site, fn}
	if id, ok := t.children[e]; ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{Parent: parent, CallSite: site, Func: fn})
	t.children[e] = id
	return id
}

// FramePushed enters fn from callSite on path and returns the new top node.
func (t *Tracker) FramePushed(path uint64, callSite program.InstID, fn program.FuncID) NodeID {
	id := t.child(t.Current(path), callSite, fn)
	n := &t.nodes[id]
	n.Refs++
	n.Count++
	t.stacks[path] = append(t.stacks[path], id)
	return id
}

// FramePopped leaves the top frame of path and returns the node now on top.
// Popping an empty stack is a no-op.
func (t *Tracker) FramePopped(path uint64) NodeID {
	stack := t.stacks[path]
	if len(stack) == 0 {
		return Root
	}
	t.nodes[stack[len(stack)-1]].Refs--
	t.stacks[path] = stack[:len(stack)-1]
	return t.Current(path)
}

// Forked gives child a copy of parent's stack.
func (t *Tracker) Forked(parent, child uint64) {
	if _, ok := t.stacks[child]; ok {
		t.Terminated(child)
	}
	stack := append([]NodeID(nil), t.stacks[parent]...)
	for _, id := range stack {
		t.nodes[id].Refs++
	}
	t.stacks[child] = stack
}

// Terminated drops all references held by path.
func (t *Tracker) Terminated(path uint64) {
	for _, id := range t.stacks[path] {
		t.nodes[id].Refs--
	}
	delete(t.stacks, path)
}

// Current returns the top node of path, Root for an unknown or empty path.
func (t *Tracker) Current(path uint64) NodeID {
	stack := t.stacks[path]
	if len(stack) == 0 {
		return Root
	}
	return stack[len(stack)-1]
}

// Depth returns the number of live frames of path.
func (t *Tracker) Depth(path uint64) int {
	return len(t.stacks[path])
}

func (t *Tracker) AddInstructions(path uint64, n uint64) {
	t.nodes[t.Current(path)].Instructions += n
}

func (t *Tracker) Node(id NodeID) Node {
	return t.nodes[id]
}

// Len returns the number of nodes including the root.
func (t *Tracker) Len() int {
	return len(t.nodes)
}

// Live returns the number of tracked paths.
func (t *Tracker) Live() int {
	return len(t.stacks)
}

// Walk calls fn for every node except the root in creation order,
// so parents come before their children.
func (t *Tracker) Walk(fn func(id NodeID, n *Node)) {
	for i := 1; i < len(t.nodes); i++ {
		fn(NodeID(i), &t.nodes[i])
	}
}

// Name renders the chain of id as caller>callee function names.
func (t *Tracker) Name(p *program.Program, id NodeID) string {
	var names []string
	for ; id != Root; id = t.nodes[id].Parent {
		names = append(names, p.Func(t.nodes[id].Func).Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, ">")
}

// Release drops every path and node. The tracker is empty afterwards.
func (t *Tracker) Release() {
	t.reset()
}
