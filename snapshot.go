// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import "time"

// ReplicaSnapshot is a consistent view of one replica's live state.
type ReplicaSnapshot struct {
	Name      string
	State     ReplicaState
	Accepted  LogIndex
	Committed LogIndex
	Error     string
	RetryAt   time.Time
}

// LeaderSnapshot is an atomic view of a leader and its replicas.
type LeaderSnapshot struct {
	State     LeaderState
	Term      uint64
	Head      LogIndex
	Committed LogIndex
	Idle      bool
	Replicas  []ReplicaSnapshot
}
