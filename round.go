// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"

	"github.com/luxfi/ketch/refs"
)

// round is one unit of consensus work: it constructs a candidate log
// entry in the local object store and drives its acceptance across the
// replica set.
type round interface {
	// start prepares the round's commit in the local object store and
	// schedules the asynchronous pushes. It runs outside the leader lock.
	start(ctx context.Context) error

	// success is invoked by the leader once a majority of voters has
	// accepted the round's commit.
	success()

	// newIndex returns the log position the round advanced the head to.
	newIndex() LogIndex

	// stageCommands returns the temporary references anchoring objects
	// the round's proposals introduced.
	stageCommands() []*refs.Command
}

// baseRound carries the state shared by every round variant.
type baseRound struct {
	leader *Leader
	old    LogIndex // head when the round was constructed
	next   LogIndex // set by start
	stage  []*refs.Command
}

func (r *baseRound) newIndex() LogIndex {
	return r.next
}

func (r *baseRound) stageCommands() []*refs.Command {
	return r.stage
}

func (r *baseRound) success() {}
