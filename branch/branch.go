// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package branch tracks which outcomes of conditional branches were taken.
package branch

import (
	"fmt"

	"github.com/covguide/covguide/program"
)

type Class uint8

const (
	Unseen  Class = iota // neither side taken
	Partial              // exactly one side taken
	Full                 // both sides taken
)

func (c Class) String() string {
	switch c {
	case Unseen:
		return "unseen"
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return fmt.Sprintf("class(%d)", c)
}

type site struct {
	taken [2]bool // false/true side, like takenTotal of a sonar site
}

func (s *site) class() Class {
	switch {
	case s.taken[0] && s.taken[1]:
		return Full
	case s.taken[0] || s.taken[1]:
		return Partial
	}
	return Unseen
}

type Totals struct {
	Total   int
	Full    int
	Partial int
}

func (t Totals) Unseen() int {
	return t.Total - t.Full - t.Partial
}

// Coverage holds one record per conditional branch instruction.
// Totals only ever move unseen -> partial -> full.
type Coverage struct {
	sites  map[program.InstID]*site
	totals Totals
}

func New() *Coverage {
	return &Coverage{sites: make(map[program.InstID]*site)}
}

// Register adds a static branch as unseen. Registering twice is a no-op.
func (c *Coverage) Register(inst program.InstID) {
	c.get(inst)
}

func (c *Coverage) get(inst program.InstID) *site {
	s := c.sites[inst]
	if s == nil {
		s = new(site)
		c.sites[inst] = s
		c.totals.Total++
	}
	return s
}

// MarkVisited records the sides taken by one evaluation of the branch at inst.
// At least one side must be set; a call with neither is ignored.
func (c *Coverage) MarkVisited(inst program.InstID, trueSide, falseSide bool) {
	if !trueSide && !falseSide {
		return
	}
	s := c.get(inst)
	old := s.class()
	if falseSide {
		s.taken[0] = true
	}
	if trueSide {
		s.taken[1] = true
	}
	cur := s.class()
	if cur == old {
		return
	}
	if old == Partial {
		c.totals.Partial--
	}
	switch cur {
	case Partial:
		c.totals.Partial++
	case Full:
		c.totals.Full++
	}
}

// Class returns the classification of inst; unknown instructions are unseen.
func (c *Coverage) Class(inst program.InstID) Class {
	if s := c.sites[inst]; s != nil {
		return s.class()
	}
	return Unseen
}

// Taken reports the sides taken so far.
func (c *Coverage) Taken(inst program.InstID) (trueSide, falseSide bool) {
	if s := c.sites[inst]; s != nil {
		return s.taken[1], s.taken[0]
	}
	return false, false
}

func (c *Coverage) Totals() Totals {
	return c.totals
}
