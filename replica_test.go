// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ketch/config"
)

func TestReplicaBackoff(t *testing.T) {
	require := require.New(t)

	min := 100 * time.Millisecond
	max := time.Second
	r := &Replica{cfg: config.Replica{MinRetry: min, MaxRetry: max}}

	// The first retry always waits the minimum.
	d := r.nextDelay()
	require.Equal(min, d)
	r.lastDelay = d

	// Every later delay stays within [min, max].
	for i := 0; i < 50; i++ {
		d = r.nextDelay()
		require.GreaterOrEqual(d, min)
		require.LessOrEqual(d, max)
		r.lastDelay = d
	}
}

func TestShouldPushUnbatchedCommit(t *testing.T) {
	require := require.New(t)

	idx := UnknownIndex(ids.GenerateTestID()).Next(ids.GenerateTestID())

	batched := &Replica{cfg: config.Replica{CommitSpeed: config.Batched}}
	require.False(batched.shouldPushUnbatchedCommit(idx, false))
	require.True(batched.shouldPushUnbatchedCommit(idx, true))

	fast := &Replica{cfg: config.Replica{CommitSpeed: config.Fast}}
	require.True(fast.shouldPushUnbatchedCommit(idx, false))
	require.True(fast.shouldPushUnbatchedCommit(idx, true))
}

func TestReplicaHasAccepted(t *testing.T) {
	require := require.New(t)

	base := UnknownIndex(ids.GenerateTestID())
	first := base.Next(ids.GenerateTestID())
	second := first.Next(ids.GenerateTestID())

	r := &Replica{}
	require.False(r.hasAccepted(first))

	r.accepted = first
	require.True(r.hasAccepted(first))
	require.False(r.hasAccepted(second))

	// A later position supersedes an earlier one.
	r.accepted = second
	require.True(r.hasAccepted(first))

	// Divergent replicas never count toward quorum.
	r.state = ReplicaDivergent
	require.False(r.hasAccepted(first))
}
