// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

// proposalRound batches queued proposals into commits and drives their
// acceptance. When every proposal shares author and message the whole
// batch collapses into a single combined commit; otherwise commits are
// produced in queue order.
type proposalRound struct {
	baseRound
	term      uint64
	todo      []*Proposal
	queueTree *refs.Tree // the leader's pre-applied tree, for the combined path
}

func newProposalRound(l *Leader, head LogIndex, todo []*Proposal, tree *refs.Tree) *proposalRound {
	return &proposalRound{
		baseRound: baseRound{leader: l, old: head},
		term:      l.term,
		todo:      todo,
		queueTree: tree,
	}
}

func (r *proposalRound) start(ctx context.Context) error {
	l := r.leader
	for _, p := range r.todo {
		p.setState(ProposalRunning)
	}
	ts := l.clock.Propose()

	emptyTreeID, err := refs.Empty().Write(l.store)
	if err != nil {
		l.releaseTree()
		return err
	}
	lastTree := emptyTreeID
	if r.old.ID != ids.Empty {
		prev, err := l.store.GetCommit(r.old.ID)
		if err != nil {
			l.releaseTree()
			return err
		}
		lastTree = prev.Tree
	}

	head := r.old
	if r.queueTree != nil && r.canCombine() {
		treeID, err := r.queueTree.Write(l.store)
		l.releaseTree()
		if err != nil {
			return err
		}
		if treeID != lastTree {
			id, err := r.writeCommit(treeID, head, r.todo[0], ts.Time())
			if err != nil {
				return err
			}
			head = head.Next(id)
		}
	} else {
		l.releaseTree()
		tree, err := r.treeAt(r.old)
		if err != nil {
			return err
		}
		for _, p := range r.todo {
			// Validation happened at queue time; a failure here means the
			// queue and the tree disagree.
			if !tree.Apply(p.Commands()) {
				return fmt.Errorf("queued proposal no longer applies to the reference tree")
			}
			treeID, err := tree.Write(l.store)
			if err != nil {
				return err
			}
			if treeID == lastTree {
				continue
			}
			id, err := r.writeCommit(treeID, head, p, ts.Time())
			if err != nil {
				return err
			}
			head = head.Next(id)
			lastTree = treeID
		}
	}

	if head == r.old {
		// The batch did not change the tree: every proposal succeeds
		// vacuously and no round runs.
		for _, p := range r.todo {
			p.success()
		}
		l.mu.Lock()
		l.nextRoundLocked()
		l.mu.Unlock()
		return nil
	}
	r.next = head

	stage, err := buildStage(l.store, l.cfg.StagePrefix(), head.ID, allCommands(r.todo), l.systemIdent(ts.Time()))
	if err != nil {
		return err
	}
	r.stage = stage

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.MaxWaitForMonotonicClock)
	defer cancel()
	if err := ts.BlockUntil(waitCtx); err != nil {
		return err
	}

	l.runAsync(r)
	return nil
}

func (r *proposalRound) success() {
	for _, p := range r.todo {
		p.success()
	}
}

// writeCommit persists one proposal commit whose tree is treeID and whose
// parent is the commit at parent, if any.
func (r *proposalRound) writeCommit(treeID ids.ID, parent LogIndex, p *Proposal, when time.Time) (ids.ID, error) {
	l := r.leader
	c := &gitstore.Commit{
		Tree:      treeID,
		Author:    l.authorIdent(p.Author(), when),
		Committer: l.systemIdent(when),
		Message:   proposalMessage(p.Message(), r.term),
	}
	if parent.ID != ids.Empty {
		c.Parents = []ids.ID{parent.ID}
	}
	return l.store.PutCommit(c)
}

// treeAt loads the reference tree persisted at idx.
func (r *proposalRound) treeAt(idx LogIndex) (*refs.Tree, error) {
	if idx.ID == ids.Empty {
		return refs.Empty(), nil
	}
	c, err := r.leader.store.GetCommit(idx.ID)
	if err != nil {
		return nil, err
	}
	return refs.Read(r.leader.store, c.Tree)
}

// canCombine reports whether the whole batch can collapse into a single
// commit: every proposal must share message and author identity, with
// nil treated as the empty message and the system identity respectively.
func (r *proposalRound) canCombine() bool {
	if len(r.todo) == 0 {
		return false
	}
	first := r.todo[0]
	for _, p := range r.todo[1:] {
		if p.Message() != first.Message() {
			return false
		}
		if !r.leader.identEqual(p.Author(), first.Author()) {
			return false
		}
	}
	return true
}

func allCommands(todo []*Proposal) []*refs.Command {
	var cmds []*refs.Command
	for _, p := range todo {
		cmds = append(cmds, p.Commands()...)
	}
	return cmds
}
