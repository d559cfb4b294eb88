// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ketch replicates reference updates across a set of
// content-addressed repositories using leader-driven, quorum-based log
// replication. A leader validates proposed updates against its in-memory
// reference tree, batches them into rounds, writes each round as a commit
// in the local object store, and pushes the commit to every replica; once
// a majority of voters has accepted the commit it is durable and the
// proposals it carries are reported as executed.
package ketch

// LeaderState is the lifecycle state of a Leader.
type LeaderState int

const (
	// StateCandidate leaders have not yet won an election for their term.
	StateCandidate LeaderState = iota
	// StateLeader leaders hold the current term and may commit proposals.
	StateLeader
	// StateDeposed leaders observed a higher term elsewhere and refuse
	// new work.
	StateDeposed
	// StateShutdown leaders have been stopped.
	StateShutdown
)

func (s LeaderState) String() string {
	switch s {
	case StateCandidate:
		return "CANDIDATE"
	case StateLeader:
		return "LEADER"
	case StateDeposed:
		return "DEPOSED"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// ReplicaState describes how a replica's repository relates to the
// leader's log.
type ReplicaState int

const (
	// ReplicaUnknown replicas have not reported since the leader started.
	ReplicaUnknown ReplicaState = iota
	// ReplicaLagging replicas are behind the leader's accepted position.
	ReplicaLagging
	// ReplicaCurrent replicas match the leader's accepted position.
	ReplicaCurrent
	// ReplicaAhead replicas hold commits the leader has not accepted.
	ReplicaAhead
	// ReplicaDivergent replicas hold history unrelated to the leader's.
	ReplicaDivergent
	// ReplicaOffline replicas could not be reached; a retry is scheduled.
	ReplicaOffline
)

func (s ReplicaState) String() string {
	switch s {
	case ReplicaUnknown:
		return "UNKNOWN"
	case ReplicaLagging:
		return "LAGGING"
	case ReplicaCurrent:
		return "CURRENT"
	case ReplicaAhead:
		return "AHEAD"
	case ReplicaDivergent:
		return "DIVERGENT"
	case ReplicaOffline:
		return "OFFLINE"
	default:
		return "INVALID"
	}
}
