// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

const (
	// directStageLimit is the largest object set staged one reference per
	// object.
	directStageLimit = 5

	// stageBatchSize is how many commit tips one temporary anchor commit
	// gathers as parents.
	stageBatchSize = 128
)

// buildStage returns create commands anchoring every new object the batch
// introduced under the stage namespace, so the objects survive garbage
// collection while consensus is in flight. Small sets get one reference
// per object; large sets are reduced to reachable commit tips and, when
// still large, chained behind temporary commits so a single reference
// anchors many objects.
func buildStage(
	store *gitstore.Store,
	prefix string,
	txn ids.ID,
	cmds []*refs.Command,
	ident gitstore.Ident,
) ([]*refs.Command, error) {
	// Only the latest target per reference name needs anchoring.
	latest := make(map[string]ids.ID)
	for _, cmd := range cmds {
		if cmd.New.Symref != "" || cmd.New.ID == ids.Empty {
			continue
		}
		latest[cmd.Name] = cmd.New.ID
	}
	objs := set.Set[ids.ID]{}
	for _, id := range latest {
		objs.Add(id)
	}
	if objs.Len() == 0 {
		return nil, nil
	}
	if objs.Len() <= directStageLimit {
		return stageCommands(prefix, txn, objs.List()), nil
	}

	var commits, other []ids.ID
	for _, id := range objs.List() {
		has, err := store.HasCommit(id)
		if err != nil {
			return nil, err
		}
		if has {
			commits = append(commits, id)
		} else {
			other = append(other, id)
		}
	}
	tips, err := reduceToTips(store, commits)
	if err != nil {
		return nil, err
	}
	anchors := append(other, tips...)
	if len(anchors) <= directStageLimit {
		return stageCommands(prefix, txn, anchors), nil
	}

	// Chain temporary commits: each batch of tips becomes the parents of
	// one temporary commit, and the temporaries chain together, so the
	// final temporary anchors every tip.
	emptyTree, err := refs.Empty().Write(store)
	if err != nil {
		return nil, err
	}
	sortIDs(tips)
	var prev ids.ID
	for i := 0; i < len(tips); i += stageBatchSize {
		end := i + stageBatchSize
		if end > len(tips) {
			end = len(tips)
		}
		parents := make([]ids.ID, 0, end-i+1)
		parents = append(parents, tips[i:end]...)
		if prev != ids.Empty {
			parents = append(parents, prev)
		}
		prev, err = store.PutCommit(&gitstore.Commit{
			Tree:      emptyTree,
			Parents:   parents,
			Author:    ident,
			Committer: ident,
			Message:   "Stage",
		})
		if err != nil {
			return nil, err
		}
	}
	return stageCommands(prefix, txn, append(other, prev)), nil
}

// reduceToTips drops every commit reachable from another commit in the
// set, leaving only the tips.
func reduceToTips(store *gitstore.Store, commits []ids.ID) ([]ids.ID, error) {
	var tips []ids.ID
	for _, candidate := range commits {
		reachable := false
		for _, from := range commits {
			if from == candidate {
				continue
			}
			ok, err := store.Descends(from, candidate)
			if err != nil {
				return nil, err
			}
			if ok {
				reachable = true
				break
			}
		}
		if !reachable {
			tips = append(tips, candidate)
		}
	}
	return tips, nil
}

func stageCommands(prefix string, txn ids.ID, objs []ids.ID) []*refs.Command {
	sortIDs(objs)
	cmds := make([]*refs.Command, 0, len(objs))
	for i, id := range objs {
		name := fmt.Sprintf("%s%x.%x", prefix, txn[:], i)
		cmds = append(cmds, refs.NewCommand(name, ids.Empty, id))
	}
	return cmds
}

func sortIDs(objs []ids.ID) {
	sort.Slice(objs, func(i, j int) bool {
		return bytes.Compare(objs[i][:], objs[j][:]) < 0
	})
}
