// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage keeps the sets of visited basic blocks and source lines.
//
// Every set exists twice: for all code and for analyzed (defined) code only.
// Each set has a delta companion holding the entries first inserted since the
// last TakeDelta. Entries are never removed and visit counts never decrease.
package coverage

import (
	"sort"

	"github.com/covguide/covguide/program"
)

type Record struct {
	Loc   string
	Count uint64
}

type Counts struct {
	Blocks        int
	DefinedBlocks int
	Lines         int
	DefinedLines  int
}

// Delta holds the entries first covered during one flush interval.
// Block records carry the visit counts as of the moment the delta was taken.
type Delta struct {
	Blocks        map[program.BlockID]Record
	DefinedBlocks map[program.BlockID]Record
	Lines         []string
	DefinedLines  []string
}

func (d *Delta) Empty() bool {
	return len(d.Blocks) == 0 && len(d.DefinedBlocks) == 0 && len(d.Lines) == 0 && len(d.DefinedLines) == 0
}

type Set struct {
	blocks        map[program.BlockID]Record
	definedBlocks map[program.BlockID]Record
	lines         map[string]struct{}
	definedLines  map[string]struct{}

	addedBlocks        map[program.BlockID]struct{}
	addedDefinedBlocks map[program.BlockID]struct{}
	addedLines         map[string]struct{}
	addedDefinedLines  map[string]struct{}
}

func NewSet() *Set {
	s := &Set{
		blocks:        make(map[program.BlockID]Record),
		definedBlocks: make(map[program.BlockID]Record),
		lines:         make(map[string]struct{}),
		definedLines:  make(map[string]struct{}),
	}
	s.resetDelta()
	return s
}

func (s *Set) resetDelta() {
	s.addedBlocks = make(map[program.BlockID]struct{})
	s.addedDefinedBlocks = make(map[program.BlockID]struct{})
	s.addedLines = make(map[string]struct{})
	s.addedDefinedLines = make(map[string]struct{})
}

// RecordVisit marks block b visited. Blocks of analyzed code go to both
// universes. It reports whether this is the first visit ever.
func (s *Set) RecordVisit(b program.BlockID, loc string, analyzed bool) bool {
	rec, ok := s.blocks[b]
	if !ok {
		rec.Loc = loc
		s.addedBlocks[b] = struct{}{}
	}
	rec.Count++
	s.blocks[b] = rec
	if analyzed {
		if _, ok := s.definedBlocks[b]; !ok {
			s.addedDefinedBlocks[b] = struct{}{}
		}
		s.definedBlocks[b] = rec
	}
	return !ok
}

// RecordLine marks a source line visited.
func (s *Set) RecordLine(loc string, analyzed bool) {
	if _, ok := s.lines[loc]; !ok {
		s.lines[loc] = struct{}{}
		s.addedLines[loc] = struct{}{}
	}
	if analyzed {
		if _, ok := s.definedLines[loc]; !ok {
			s.definedLines[loc] = struct{}{}
			s.addedDefinedLines[loc] = struct{}{}
		}
	}
}

func (s *Set) IsCovered(b program.BlockID) bool {
	_, ok := s.blocks[b]
	return ok
}

func (s *Set) IsLineCovered(loc string) bool {
	_, ok := s.lines[loc]
	return ok
}

func (s *Set) Count(b program.BlockID) uint64 {
	return s.blocks[b].Count
}

func (s *Set) Stats() Counts {
	return Counts{
		Blocks:        len(s.blocks),
		DefinedBlocks: len(s.definedBlocks),
		Lines:         len(s.lines),
		DefinedLines:  len(s.definedLines),
	}
}

// Pending returns the sizes of the delta sets without clearing them.
func (s *Set) Pending() Counts {
	return Counts{
		Blocks:        len(s.addedBlocks),
		DefinedBlocks: len(s.addedDefinedBlocks),
		Lines:         len(s.addedLines),
		DefinedLines:  len(s.addedDefinedLines),
	}
}

// TakeDelta returns the entries added since the previous call and clears
// the delta sets.
func (s *Set) TakeDelta() Delta {
	d := s.Delta()
	s.ResetDelta()
	return d
}

// Delta returns the entries added since the last reset without clearing them.
func (s *Set) Delta() Delta {
	d := Delta{
		Blocks:        make(map[program.BlockID]Record, len(s.addedBlocks)),
		DefinedBlocks: make(map[program.BlockID]Record, len(s.addedDefinedBlocks)),
		Lines:         sortedKeys(s.addedLines),
		DefinedLines:  sortedKeys(s.addedDefinedLines),
	}
	for b := range s.addedBlocks {
		d.Blocks[b] = s.blocks[b]
	}
	for b := range s.addedDefinedBlocks {
		d.DefinedBlocks[b] = s.definedBlocks[b]
	}
	return d
}

// ResetDelta clears the delta sets.
func (s *Set) ResetDelta() {
	s.resetDelta()
}

// Blocks calls fn for every covered block in unspecified order.
func (s *Set) Blocks(fn func(b program.BlockID, rec Record)) {
	for b, rec := range s.blocks {
		fn(b, rec)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
