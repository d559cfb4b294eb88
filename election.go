// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/luxfi/ids"

	"github.com/luxfi/ketch/clock"
	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

// electionRound bumps the term: it writes a commit whose message carries
// the new term and asks the voters to accept it. Winning the election
// turns the candidate into the leader for that term.
type electionRound struct {
	baseRound
	term uint64
}

func newElectionRound(l *Leader, head LogIndex) *electionRound {
	return &electionRound{baseRound: baseRound{leader: l, old: head}}
}

func (r *electionRound) start(ctx context.Context) error {
	l := r.leader
	ts := l.clock.Propose()

	c := &gitstore.Commit{
		Author:    l.systemIdent(ts.Time()),
		Committer: l.systemIdent(ts.Time()),
	}
	term := uint64(1)
	if r.old.ID == ids.Empty {
		emptyTree, err := refs.Empty().Write(l.store)
		if err != nil {
			return err
		}
		c.Tree = emptyTree
	} else {
		prev, err := l.store.GetCommit(r.old.ID)
		if err != nil {
			return err
		}
		prevTerm, err := parseTerm(prev.Message)
		if err != nil {
			return err
		}
		term = prevTerm + 1
		c.Tree = prev.Tree
		c.Parents = []ids.ID{r.old.ID}
		if l.cfg.RequireMonotonicLeaderElections && ts.Time().Before(prev.Committer.When) {
			return fmt.Errorf("%w: proposed election time %v is before previous accepted commit time %v",
				clock.ErrTimeUncertain, ts.Time(), prev.Committer.When)
		}
	}
	r.term = term
	c.Message = electionMessage(term, electionTag())

	id, err := l.store.PutCommit(c)
	if err != nil {
		return err
	}
	r.next = r.old.Next(id)

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.MaxWaitForMonotonicClock)
	defer cancel()
	if err := ts.BlockUntil(waitCtx); err != nil {
		return err
	}

	l.runAsync(r)
	return nil
}

// electionTag disambiguates two candidates racing in the same clock
// second with the same committer identity, which would otherwise produce
// byte-identical election commits.
func electionTag() string {
	return strconv.FormatUint(rand.Uint64(), 16)
}
