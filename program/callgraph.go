// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package program

import (
	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
)

// CallGraph is the static call graph. Node IDs are FuncIDs.
//
// CallGraph satisfies the graph.Graph interface.
type CallGraph struct {
	p   *Program
	out [][]int
}

var _ graph.Graph = (*CallGraph)(nil)

func (g *CallGraph) NumNodes() int   { return len(g.out) }
func (g *CallGraph) Out(i int) []int { return g.out[i] }
func (g *CallGraph) Label(i int) string {
	return g.p.funcs[i].Name
}

func (p *Program) CallGraph() *CallGraph {
	g := &CallGraph{p: p, out: make([][]int, len(p.funcs))}
	for i := range p.insts {
		f := int(p.FuncOf(InstID(i)))
		for _, c := range p.insts[i].Callees {
			g.out[f] = appendInt(g.out[f], int(c))
		}
	}
	return g
}

// Component is a strongly connected component of the call graph.
type Component struct {
	Funcs     []FuncID
	Recursive bool // functions of the component can reach themselves
}

// BottomUp returns the components of the call graph ordered so that every
// component comes after all components it calls into.
func (p *Program) BottomUp() []Component {
	cg := p.CallGraph()
	scc := graphalg.SCC(cg, graphalg.SCCSubnodeComponent)
	n := scc.NumNodes()

	// Condensation edges.
	succs := make([][]int, n)
	for f := 0; f < cg.NumNodes(); f++ {
		cf := scc.SubnodeComponent(f)
		for _, g := range cg.Out(f) {
			if cc := scc.SubnodeComponent(g); cc != cf {
				succs[cf] = appendInt(succs[cf], cc)
			}
		}
	}

	// Iterative post-order: callees finish first.
	type frame struct{ c, next int }
	done := make([]bool, n)
	order := make([]int, 0, n)
	var stack []frame
	for root := 0; root < n; root++ {
		if done[root] {
			continue
		}
		done[root] = true
		stack = append(stack[:0], frame{root, 0})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(succs[top.c]) {
				s := succs[top.c][top.next]
				top.next++
				if !done[s] {
					done[s] = true
					stack = append(stack, frame{s, 0})
				}
				continue
			}
			order = append(order, top.c)
			stack = stack[:len(stack)-1]
		}
	}

	comps := make([]Component, 0, n)
	for _, c := range order {
		nodes := scc.Subnodes(c)
		comp := Component{Recursive: len(nodes) > 1}
		for _, f := range nodes {
			comp.Funcs = append(comp.Funcs, FuncID(f))
			for _, g := range cg.Out(f) {
				if g == f {
					comp.Recursive = true
				}
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

func appendInt(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
