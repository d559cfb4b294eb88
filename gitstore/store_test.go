// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gitstore

import (
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ketch/refs"
)

func testIdent(name string, unix int64) Ident {
	return Ident{Name: name, Email: name + "@example.com", When: time.Unix(unix, 0).UTC()}
}

func TestCommitRoundTrip(t *testing.T) {
	require := require.New(t)

	s := New(memdb.New())
	treeID, err := s.PutTree([]byte("refs/heads/main 00\n"))
	require.NoError(err)

	parent := ids.GenerateTestID()
	c := &Commit{
		Tree:      treeID,
		Parents:   []ids.ID{parent},
		Author:    testIdent("A U Thor", 1500),
		Committer: testIdent("ketch", 1501),
		Message:   "update main\n\nTerm: 3",
	}
	id, err := s.PutCommit(c)
	require.NoError(err)

	back, err := s.GetCommit(id)
	require.NoError(err)
	require.Equal(c.Tree, back.Tree)
	require.Equal(c.Parents, back.Parents)
	require.Equal(c.Author, back.Author)
	require.Equal(c.Committer, back.Committer)
	require.Equal(c.Message, back.Message)

	// Content addressing: identical commit, identical id.
	id2, err := s.PutCommit(c)
	require.NoError(err)
	require.Equal(id, id2)

	has, err := s.HasCommit(id)
	require.NoError(err)
	require.True(has)

	_, err = s.GetCommit(ids.GenerateTestID())
	require.ErrorIs(err, database.ErrNotFound)
}

func TestDescends(t *testing.T) {
	require := require.New(t)

	s := New(memdb.New())
	tree, err := s.PutTree(nil)
	require.NoError(err)

	mk := func(msg string, parents ...ids.ID) ids.ID {
		id, err := s.PutCommit(&Commit{
			Tree:      tree,
			Parents:   parents,
			Author:    testIdent("a", 1),
			Committer: testIdent("a", 1),
			Message:   msg,
		})
		require.NoError(err)
		return id
	}

	root := mk("root")
	mid := mk("mid", root)
	tip := mk("tip", mid)
	other := mk("other")

	ok, err := s.Descends(tip, root)
	require.NoError(err)
	require.True(ok)

	ok, err = s.Descends(tip, tip)
	require.NoError(err)
	require.True(ok)

	ok, err = s.Descends(root, tip)
	require.NoError(err)
	require.False(ok)

	ok, err = s.Descends(tip, other)
	require.NoError(err)
	require.False(ok)

	// Unknown commits terminate the walk instead of failing it.
	ok, err = s.Descends(ids.GenerateTestID(), root)
	require.NoError(err)
	require.False(ok)
}

func TestRefDBUpdate(t *testing.T) {
	require := require.New(t)

	db := NewRefDB(memdb.New())
	c1 := ids.GenerateTestID()
	c2 := ids.GenerateTestID()

	create := refs.NewCommand("refs/heads/main", ids.Empty, c1)
	require.NoError(db.Update([]*refs.Command{create}, true))
	require.Equal(refs.OK, create.Result())

	got, err := db.Get("refs/heads/main")
	require.NoError(err)
	require.Equal(c1, got.ID)

	// Old-value mismatch fails with a lock failure.
	stale := refs.NewCommand("refs/heads/main", c2, c1)
	err = db.Update([]*refs.Command{stale}, true)
	require.ErrorIs(err, ErrLockFailure)
	require.Equal(refs.LockFailure, stale.Result())

	// Unchecked updates overwrite unconditionally.
	force := refs.NewCommand("refs/heads/main", ids.Empty, c2)
	require.NoError(db.Update([]*refs.Command{force}, false))
	got, err = db.Get("refs/heads/main")
	require.NoError(err)
	require.Equal(c2, got.ID)

	// Deletion.
	del := refs.NewCommand("refs/heads/main", c2, ids.Empty)
	require.NoError(db.Update([]*refs.Command{del}, true))
	_, err = db.Get("refs/heads/main")
	require.ErrorIs(err, database.ErrNotFound)
}

func TestRefDBRefs(t *testing.T) {
	require := require.New(t)

	db := NewRefDB(memdb.New())
	c1 := ids.GenerateTestID()
	require.NoError(db.Update([]*refs.Command{
		refs.NewCommand("refs/heads/main", ids.Empty, c1),
		refs.NewSymrefCommand("HEAD", ids.Empty, "refs/heads/main"),
	}, false))

	all, err := db.Refs()
	require.NoError(err)
	require.Len(all, 2)
	require.Equal(c1, all["refs/heads/main"].ID)
	require.Equal("refs/heads/main", all["HEAD"].Symref)
}
