// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package callpath

import (
	"testing"

	"github.com/covguide/covguide/program"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	tr := New()
	require.Equal(t, Root, tr.Current(1))
	require.Equal(t, Root, tr.FramePopped(1))

	a := tr.FramePushed(1, program.NoInst, 0)
	b := tr.FramePushed(1, 4, 1)
	require.NotEqual(t, a, b)
	require.Equal(t, b, tr.Current(1))
	require.Equal(t, 2, tr.Depth(1))
	require.Equal(t, a, tr.Node(b).Parent)

	tr.AddInstructions(1, 3)
	require.Equal(t, a, tr.FramePopped(1))
	// Calling again from the same site reuses the node.
	require.Equal(t, b, tr.FramePushed(1, 4, 1))
	// A different site makes a new chain.
	tr.FramePopped(1)
	c := tr.FramePushed(1, 5, 1)
	require.NotEqual(t, b, c)

	nb := tr.Node(b)
	require.Equal(t, uint64(2), nb.Count)
	require.Equal(t, uint64(3), nb.Instructions)
	require.Equal(t, 0, nb.Refs)
	require.Equal(t, 1, tr.Node(c).Refs)
	require.Equal(t, 4, tr.Len())
}

func TestForkTerminate(t *testing.T) {
	tr := New()
	a := tr.FramePushed(1, program.NoInst, 0)
	b := tr.FramePushed(1, 2, 1)
	tr.Forked(1, 2)
	require.Equal(t, 2, tr.Live())
	require.Equal(t, b, tr.Current(2))
	require.Equal(t, 2, tr.Node(a).Refs)
	require.Equal(t, 2, tr.Node(b).Refs)

	tr.FramePopped(2)
	require.Equal(t, b, tr.Current(1))
	require.Equal(t, a, tr.Current(2))

	tr.Terminated(1)
	tr.Terminated(2)
	require.Equal(t, 0, tr.Live())
	tr.Walk(func(id NodeID, n *Node) {
		if n.Refs != 0 {
			t.Fatalf("node %v still has %v refs", id, n.Refs)
		}
	})

	tr.Release()
	require.Equal(t, 1, tr.Len())
}

func TestName(t *testing.T) {
	b := program.NewBuilder("names")
	for _, name := range []string{"main", "f", "g"} {
		b.AddFunc(name, true)
		b.AddBlock()
		b.AddInst(program.Return, program.SourceLoc{File: name, Line: 1})
	}
	p, err := b.Finish()
	require.NoError(t, err)

	tr := New()
	tr.FramePushed(7, program.NoInst, p.Lookup("main"))
	tr.FramePushed(7, 0, p.Lookup("f"))
	id := tr.FramePushed(7, 1, p.Lookup("g"))
	require.Equal(t, "main>f>g", tr.Name(p, id))
	require.Equal(t, "", tr.Name(p, Root))
}
