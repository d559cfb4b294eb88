// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"fmt"

	"github.com/luxfi/ids"
)

// LogIndex is a position in the replicated reference-update log: a commit
// id paired with the monotonic index the current leader assigned to it.
// Index 0 means the position within the log is not yet known. Indices are
// only comparable within a single leader instance.
type LogIndex struct {
	ID    ids.ID
	Index uint64
}

// UnknownIndex returns a LogIndex for a commit whose log position is not
// known, such as the accepted commit read from disk before an election.
func UnknownIndex(id ids.ID) LogIndex {
	return LogIndex{ID: id}
}

// Next returns the position following l, holding the commit id.
func (l LogIndex) Next(id ids.ID) LogIndex {
	return LogIndex{ID: id, Index: l.Index + 1}
}

// IsBefore reports whether l is at or before other in the log.
func (l LogIndex) IsBefore(other LogIndex) bool {
	return l.Index <= other.Index
}

func (l LogIndex) String() string {
	if l.ID == ids.Empty {
		return fmt.Sprintf("%d@-", l.Index)
	}
	return fmt.Sprintf("%d@%x", l.Index, l.ID[:4])
}
