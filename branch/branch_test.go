// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package branch

import (
	"testing"

	"github.com/covguide/covguide/program"
)

func TestClassification(t *testing.T) {
	c := New()
	for i := 0; i < 4; i++ {
		c.Register(0)
		c.Register(1)
		c.Register(2)
	}
	if got, want := c.Totals(), (Totals{Total: 3}); got != want {
		t.Fatalf("Totals() = %+v, want %+v", got, want)
	}

	tests := []struct {
		inst       program.InstID
		trueSide   bool
		falseSide  bool
		wantClass  Class
		wantTotals Totals
	}{
		{0, true, false, Partial, Totals{Total: 3, Partial: 1}},
		{0, true, false, Partial, Totals{Total: 3, Partial: 1}},
		{0, false, true, Full, Totals{Total: 3, Full: 1}},
		{1, true, true, Full, Totals{Total: 3, Full: 2}},
		{2, false, false, Unseen, Totals{Total: 3, Full: 2}},
		{2, false, true, Partial, Totals{Total: 3, Full: 2, Partial: 1}},
		{0, true, false, Full, Totals{Total: 3, Full: 2, Partial: 1}},
		// Unregistered branches are registered on first touch.
		{9, true, false, Partial, Totals{Total: 4, Full: 2, Partial: 2}},
	}
	for i, test := range tests {
		c.MarkVisited(test.inst, test.trueSide, test.falseSide)
		if got := c.Class(test.inst); got != test.wantClass {
			t.Fatalf("#%v: Class(%v) = %v, want %v", i, test.inst, got, test.wantClass)
		}
		got := c.Totals()
		if got != test.wantTotals {
			t.Fatalf("#%v: Totals() = %+v, want %+v", i, got, test.wantTotals)
		}
		if got.Unseen() != got.Total-got.Full-got.Partial || got.Unseen() < 0 {
			t.Fatalf("#%v: bad unseen count %v", i, got.Unseen())
		}
	}
}

func TestPartialSeenTwice(t *testing.T) {
	c := New()
	c.Register(5)
	c.MarkVisited(5, true, false)
	c.MarkVisited(5, true, false)
	if got := c.Class(5); got != Partial {
		t.Fatalf("Class = %v, want %v", got, Partial)
	}
	if got := c.Totals(); got.Partial != 1 || got.Full != 0 {
		t.Fatalf("Totals = %+v, want one partial branch", got)
	}
	tr, fa := c.Taken(5)
	if !tr || fa {
		t.Fatalf("Taken = %v/%v, want true/false", tr, fa)
	}
	if got := c.Class(6); got != Unseen {
		t.Fatalf("Class(unknown) = %v, want %v", got, Unseen)
	}
}
