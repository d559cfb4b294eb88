// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package refs

import (
	"testing"

	"github.com/luxfi/crypto/hashing"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

// memTrees is an in-memory tree object store.
type memTrees struct {
	objs map[ids.ID][]byte
}

func newMemTrees() *memTrees {
	return &memTrees{objs: make(map[ids.ID][]byte)}
}

func (m *memTrees) PutTree(data []byte) (ids.ID, error) {
	id := ids.ID(hashing.ComputeHash256Array(data))
	m.objs[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memTrees) GetTree(id ids.ID) ([]byte, error) {
	data, ok := m.objs[id]
	if !ok {
		return nil, errMissing
	}
	return data, nil
}

var errMissing = &missingErr{}

type missingErr struct{}

func (*missingErr) Error() string { return "tree not found" }

func TestTreeApply(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	tr := Empty()
	create := NewCommand("refs/heads/main", ids.Empty, c1)
	require.True(tr.Apply([]*Command{create}))
	tgt, ok := tr.Get("refs/heads/main")
	require.True(ok)
	require.Equal(c1, tgt.ID)

	// Fast-forward update.
	update := NewCommand("refs/heads/main", c1, c2)
	require.True(tr.Apply([]*Command{update}))
	tgt, _ = tr.Get("refs/heads/main")
	require.Equal(c2, tgt.ID)
}

func TestTreeApplyOldMismatch(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()
	c3 := ids.GenerateTestID()

	tr := Empty()
	require.True(tr.Apply([]*Command{NewCommand("refs/heads/main", ids.Empty, c1)}))

	bad := NewCommand("refs/heads/main", c2, c3)
	require.False(tr.Apply([]*Command{bad}))
	require.Equal(LockFailure, bad.Result())

	// Tree unchanged.
	tgt, _ := tr.Get("refs/heads/main")
	require.Equal(c1, tgt.ID)
}

func TestTreeApplyAllOrNothing(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	tr := Empty()
	good := NewCommand("refs/heads/a", ids.Empty, c1)
	bad := NewCommand("refs/heads/b", c1, c2) // expects b to exist
	require.False(tr.Apply([]*Command{good, bad}))
	require.Equal(0, tr.Len())
	require.Equal(LockFailure, bad.Result())
}

func TestTreeApplyDuplicateName(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	tr := Empty()
	a := NewCommand("refs/heads/main", ids.Empty, c1)
	b := NewCommand("refs/heads/main", ids.Empty, c2)
	require.False(tr.Apply([]*Command{a, b}))
	require.Equal(RejectedOtherReason, b.Result())
	require.Equal(0, tr.Len())
}

func TestTreeApplyNameConflict(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	tr := Empty()
	require.True(tr.Apply([]*Command{NewCommand("refs/heads/main", ids.Empty, c1)}))

	// main is a file; main/sub would need it to be a directory.
	under := NewCommand("refs/heads/main/sub", ids.Empty, c2)
	require.False(tr.Apply([]*Command{under}))
	require.Equal(RejectedOtherReason, under.Result())

	// The reverse direction conflicts as well.
	tr2 := Empty()
	require.True(tr2.Apply([]*Command{NewCommand("refs/heads/main/sub", ids.Empty, c1)}))
	over := NewCommand("refs/heads/main", ids.Empty, c2)
	require.False(tr2.Apply([]*Command{over}))
}

func TestTreeApplyDelete(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()

	tr := Empty()
	require.True(tr.Apply([]*Command{NewCommand("refs/heads/main", ids.Empty, c1)}))
	require.True(tr.Apply([]*Command{NewCommand("refs/heads/main", c1, ids.Empty)}))
	_, ok := tr.Get("refs/heads/main")
	require.False(ok)
}

func TestTreeCopyIsolated(t *testing.T) {
	require := require.New(t)

	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	tr := Empty()
	require.True(tr.Apply([]*Command{NewCommand("refs/heads/main", ids.Empty, c1)}))

	cp := tr.Copy()
	require.True(cp.Apply([]*Command{NewCommand("refs/heads/main", c1, c2)}))

	tgt, _ := tr.Get("refs/heads/main")
	require.Equal(c1, tgt.ID)
	tgt, _ = cp.Get("refs/heads/main")
	require.Equal(c2, tgt.ID)
}

func TestTreeWriteRead(t *testing.T) {
	require := require.New(t)

	store := newMemTrees()
	c1 := ids.GenerateTestID()

	tr := Empty()
	require.True(tr.Apply([]*Command{
		NewCommand("refs/heads/main", ids.Empty, c1),
		NewSymrefCommand("HEAD", ids.Empty, "refs/heads/main"),
	}))

	id, err := tr.Write(store)
	require.NoError(err)

	back, err := Read(store, id)
	require.NoError(err)
	require.Equal(tr.All(), back.All())

	// Identical content hashes to the identical tree id.
	id2, err := tr.Copy().Write(store)
	require.NoError(err)
	require.Equal(id, id2)
}

func TestTreeReadEmptyID(t *testing.T) {
	require := require.New(t)

	tr, err := Read(newMemTrees(), ids.Empty)
	require.NoError(err)
	require.Equal(0, tr.Len())
}
