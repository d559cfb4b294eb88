// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

const stagePrefix = "refs/txn/stage/"

func stageIdent() gitstore.Ident {
	return gitstore.Ident{Name: "ketch", Email: "ketch@localhost", When: time.Unix(1000, 0).UTC()}
}

func TestStageSmallSet(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	txn := ids.GenerateTestID()

	var cmds []*refs.Command
	want := make(map[ids.ID]struct{})
	for i := 0; i < 3; i++ {
		id := ids.GenerateTestID()
		want[id] = struct{}{}
		cmds = append(cmds, refs.NewCommand(fmt.Sprintf("refs/heads/b%d", i), ids.Empty, id))
	}

	stage, err := buildStage(store, stagePrefix, txn, cmds, stageIdent())
	require.NoError(err)
	require.Len(stage, 3)
	for _, cmd := range stage {
		require.True(strings.HasPrefix(cmd.Name, stagePrefix))
		require.Contains(cmd.Name, fmt.Sprintf("%x.", txn[:]))
		require.Equal(ids.Empty, cmd.Old)
		delete(want, cmd.New.ID)
	}
	require.Empty(want)
}

func TestStageDedupesPerName(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	old := ids.GenerateTestID()
	latest := ids.GenerateTestID()

	// Two updates to the same name: only the latest target is anchored.
	cmds := []*refs.Command{
		refs.NewCommand("refs/heads/main", ids.Empty, old),
		refs.NewCommand("refs/heads/main", old, latest),
	}
	stage, err := buildStage(store, stagePrefix, ids.GenerateTestID(), cmds, stageIdent())
	require.NoError(err)
	require.Len(stage, 1)
	require.Equal(latest, stage[0].New.ID)
}

func TestStageSkipsSymbolicAndDeletes(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	cmds := []*refs.Command{
		refs.NewSymrefCommand("HEAD", ids.Empty, "refs/heads/main"),
		refs.NewCommand("refs/heads/gone", ids.GenerateTestID(), ids.Empty),
	}
	stage, err := buildStage(store, stagePrefix, ids.GenerateTestID(), cmds, stageIdent())
	require.NoError(err)
	require.Empty(stage)
}

func TestStageReducesToTips(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	tree, err := store.PutTree(nil)
	require.NoError(err)

	// A chain of commits: only the tip needs anchoring.
	var parent []ids.ID
	var chain []ids.ID
	for i := 0; i < 8; i++ {
		id, err := store.PutCommit(&gitstore.Commit{
			Tree:      tree,
			Parents:   parent,
			Author:    stageIdent(),
			Committer: stageIdent(),
			Message:   fmt.Sprintf("c%d", i),
		})
		require.NoError(err)
		chain = append(chain, id)
		parent = []ids.ID{id}
	}

	var cmds []*refs.Command
	for i, id := range chain {
		cmds = append(cmds, refs.NewCommand(fmt.Sprintf("refs/heads/b%d", i), ids.Empty, id))
	}
	stage, err := buildStage(store, stagePrefix, ids.GenerateTestID(), cmds, stageIdent())
	require.NoError(err)
	require.Len(stage, 1)
	require.Equal(chain[len(chain)-1], stage[0].New.ID)
}

func TestStageChainsLargeSets(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	tree, err := store.PutTree(nil)
	require.NoError(err)

	// Many unrelated commit tips force the temporary-commit chain.
	var cmds []*refs.Command
	tips := make(map[ids.ID]struct{})
	for i := 0; i < 200; i++ {
		id, err := store.PutCommit(&gitstore.Commit{
			Tree:      tree,
			Author:    stageIdent(),
			Committer: stageIdent(),
			Message:   fmt.Sprintf("tip%d", i),
		})
		require.NoError(err)
		tips[id] = struct{}{}
		cmds = append(cmds, refs.NewCommand(fmt.Sprintf("refs/heads/b%d", i), ids.Empty, id))
	}

	stage, err := buildStage(store, stagePrefix, ids.GenerateTestID(), cmds, stageIdent())
	require.NoError(err)
	require.Len(stage, 1)

	// The single anchor reaches every tip through the temporary chain.
	for tip := range tips {
		ok, err := store.Descends(stage[0].New.ID, tip)
		require.NoError(err)
		require.True(ok)
	}
}

func TestStageNonCommitObjectsStagedDirectly(t *testing.T) {
	require := require.New(t)

	store := gitstore.New(memdb.New())
	tree, err := store.PutTree(nil)
	require.NoError(err)

	// Six targets, one of them a commit: the commit reduces but the
	// remaining blobs are anchored as they are.
	var cmds []*refs.Command
	for i := 0; i < 5; i++ {
		cmds = append(cmds, refs.NewCommand(fmt.Sprintf("refs/heads/b%d", i), ids.Empty, ids.GenerateTestID()))
	}
	commit, err := store.PutCommit(&gitstore.Commit{
		Tree:      tree,
		Author:    stageIdent(),
		Committer: stageIdent(),
		Message:   "tip",
	})
	require.NoError(err)
	cmds = append(cmds, refs.NewCommand("refs/heads/c", ids.Empty, commit))

	stage, err := buildStage(store, stagePrefix, ids.GenerateTestID(), cmds, stageIdent())
	require.NoError(err)
	require.Len(stage, 6)
}
