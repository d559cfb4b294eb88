// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/ketch/config"
	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

// RefAdvertisement is the set of references a replica reports after a
// push attempt.
type RefAdvertisement map[string]refs.Target

// pusher applies one atomic batch of reference updates to the replica's
// repository and returns its advertised references afterwards.
type pusher interface {
	push(ctx context.Context, cmds []*refs.Command) (RefAdvertisement, error)
}

// pushRequest is one scheduled batch: the target log positions plus any
// ordinary reference updates (stage anchors, expanded committed refs).
// The transactional commands themselves are materialised at dispatch
// time, so their expected old values reflect whatever the previous push
// installed rather than the state at scheduling time. A newer request
// supersedes an older one still waiting behind an in-flight push.
type pushRequest struct {
	ordinary  []*refs.Command
	accepted  LogIndex
	committed LogIndex
}

// Replica mirrors the leader's repository on one peer. Pushes run in the
// background on the shared executor; all live state is guarded by the
// owning leader's mutex.
type Replica struct {
	leader *Leader
	name   string
	cfg    config.Replica
	driver pusher
	local  bool

	// Everything below is guarded by leader.mu.
	state     ReplicaState
	accepted  LogIndex
	committed LogIndex
	lastErr   string
	lastDelay time.Duration
	retryAt   time.Time
	retryTmr  *time.Timer
	pushing   bool
	pending   *pushRequest
	closed    bool
}

// NewRemoteReplica returns a replica that pushes through transport.
func NewRemoteReplica(name string, cfg config.Replica, transport Transport) *Replica {
	return &Replica{name: name, cfg: cfg, driver: remoteDriver{t: transport}}
}

// Name returns the replica's stable name.
func (r *Replica) Name() string {
	return r.name
}

// pushAcceptedAsync schedules a background push of the round's accepted
// commit, its stage anchors, and — when this replica still lags the
// committed position — the committed state as well. Caller holds
// leader.mu.
func (r *Replica) pushAcceptedAsync(rnd round) {
	l := r.leader
	req := &pushRequest{accepted: rnd.newIndex()}
	for _, sc := range rnd.stageCommands() {
		req.ordinary = append(req.ordinary, sc.Copy())
	}
	if l.committed.ID != ids.Empty && r.committed.Index < l.committed.Index {
		ordinary, err := r.expandCommit(l.committed)
		if err != nil {
			l.log.Warn("failed to expand committed state",
				"repo", l.key, "replica", r.name, "err", err)
		} else {
			req.ordinary = append(req.ordinary, ordinary...)
			req.committed = l.committed
		}
	}
	r.send(req)
}

// pushCommitAsync schedules a background publication of the committed
// position. Caller holds leader.mu.
func (r *Replica) pushCommitAsync(committed LogIndex) {
	ordinary, err := r.expandCommit(committed)
	if err != nil {
		r.leader.log.Warn("failed to expand committed state",
			"repo", r.leader.key, "replica", r.name, "err", err)
		return
	}
	r.send(&pushRequest{ordinary: ordinary, committed: committed})
}

// expandCommit returns the ordinary reference updates accompanying a
// committed publication: nothing for TXN_COMMITTED replicas, a direct
// update of every reference in the committed tree for ALL_REFS ones.
// Caller holds leader.mu.
func (r *Replica) expandCommit(committed LogIndex) ([]*refs.Command, error) {
	if r.cfg.CommitMethod != config.AllRefs {
		return nil, nil
	}
	l := r.leader
	c, err := l.store.GetCommit(committed.ID)
	if err != nil {
		return nil, err
	}
	tree, err := refs.Read(l.store, c.Tree)
	if err != nil {
		return nil, err
	}
	all := tree.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	cmds := make([]*refs.Command, 0, len(names))
	for _, name := range names {
		tgt := all[name]
		if tgt.Symref != "" {
			cmds = append(cmds, refs.NewSymrefCommand(name, ids.Empty, tgt.Symref))
		} else {
			cmds = append(cmds, refs.NewCommand(name, ids.Empty, tgt.ID))
		}
	}
	return cmds, nil
}

// shouldPushUnbatchedCommit decides whether committed is published now or
// folded into the next round's push.
func (r *Replica) shouldPushUnbatchedCommit(committed LogIndex, leaderIdle bool) bool {
	switch r.cfg.CommitSpeed {
	case config.Fast:
		return true
	default:
		return leaderIdle
	}
}

// hasAccepted reports whether the replica's last-known accepted position
// equals or supersedes idx. Divergent replicas never count.
func (r *Replica) hasAccepted(idx LogIndex) bool {
	if r.state == ReplicaDivergent {
		return false
	}
	if idx.ID != ids.Empty && r.accepted.ID == idx.ID {
		return true
	}
	return idx.Index > 0 && idx.Index <= r.accepted.Index
}

// send schedules req, coalescing behind an in-flight push. Caller holds
// leader.mu.
func (r *Replica) send(req *pushRequest) {
	if r.closed {
		return
	}
	if r.pushing {
		r.pending = req
		return
	}
	r.dispatchLocked(req)
}

// dispatchLocked materialises the request against the replica's current
// bookkeeping and hands it to the executor. Caller holds leader.mu.
func (r *Replica) dispatchLocked(req *pushRequest) {
	cmds := make([]*refs.Command, 0, len(req.ordinary)+2)
	for _, cmd := range req.ordinary {
		cmds = append(cmds, cmd.Copy())
	}
	l := r.leader
	// A stale retry must never move a pointer backward past what a newer
	// push already installed.
	if req.accepted.ID != ids.Empty && req.accepted.Index >= r.accepted.Index {
		cmds = append(cmds, refs.NewCommand(l.cfg.AcceptedName(), r.accepted.ID, req.accepted.ID))
	}
	if req.committed.ID != ids.Empty && req.committed.Index >= r.committed.Index {
		cmds = append(cmds, refs.NewCommand(l.cfg.CommittedName(), r.committed.ID, req.committed.ID))
	}
	r.pushing = true
	l.exec.Execute(func() { r.doPush(req, cmds) })
}

// doPush performs the network half outside the lock, then reacquires it
// to record the outcome and hand the result to the leader.
func (r *Replica) doPush(req *pushRequest, cmds []*refs.Command) {
	adv, err := r.driver.push(context.Background(), cmds)

	l := r.leader
	l.mu.Lock()
	defer l.mu.Unlock()
	r.pushing = false
	if err != nil {
		r.pushFailed(req, adv, err)
	} else {
		r.pushDone(req, adv)
	}
	if next := r.pending; next != nil && !r.closed && !r.pushing {
		r.pending = nil
		r.dispatchLocked(next)
	}
}

// pushFailed records the failure and schedules a retry with exponential
// backoff. A lock failure still carries the peer's advertisement, which
// classifies the replica's lag. Caller holds leader.mu.
func (r *Replica) pushFailed(req *pushRequest, adv RefAdvertisement, err error) {
	l := r.leader
	r.lastErr = err.Error()
	if errors.Is(err, gitstore.ErrLockFailure) && adv != nil {
		r.state = r.classify(adv)
		l.log.Warn("replica rejected push",
			"repo", l.key, "replica", r.name, "state", r.state, "err", err)
	} else {
		r.state = ReplicaOffline
		l.log.Warn("replica unreachable",
			"repo", l.key, "replica", r.name, "err", err)
	}
	l.metrics.pushFailures.Inc()
	if r.closed {
		return
	}
	delay := r.nextDelay()
	r.lastDelay = delay
	r.retryAt = time.Now().Add(delay)
	r.retryTmr = time.AfterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if r.closed || r.pushing {
			return
		}
		next := req
		if r.pending != nil {
			next, r.pending = r.pending, nil
		}
		r.dispatchLocked(next)
	})
}

// pushDone advances the replica's bookkeeping and reports the update to
// the leader for vote tallying. Caller holds leader.mu.
func (r *Replica) pushDone(req *pushRequest, adv RefAdvertisement) {
	r.lastErr = ""
	r.lastDelay = 0
	r.retryAt = time.Time{}
	if req.accepted.ID != ids.Empty && req.accepted.Index >= r.accepted.Index {
		r.accepted = req.accepted
	}
	if req.committed.ID != ids.Empty && req.committed.Index >= r.committed.Index {
		r.committed = req.committed
	}
	r.state = r.classify(adv)
	r.leader.onReplicaUpdate(r)
}

// classify compares the peer's advertised accepted pointer with the
// leader's head. Caller holds leader.mu.
func (r *Replica) classify(adv RefAdvertisement) ReplicaState {
	l := r.leader
	head := l.head
	acc, ok := adv[l.cfg.AcceptedName()]
	switch {
	case !ok || acc.ID == ids.Empty:
		return ReplicaLagging
	case acc.ID == head.ID:
		return ReplicaCurrent
	}
	if behind, err := l.store.Descends(head.ID, acc.ID); err == nil && behind {
		return ReplicaLagging
	}
	if ahead, err := l.store.Descends(acc.ID, head.ID); err == nil && ahead {
		return ReplicaAhead
	}
	return ReplicaDivergent
}

// nextDelay computes the retry backoff: the first retry waits the
// minimum; later retries draw uniformly from [min, last*3], clamped to
// the maximum.
func (r *Replica) nextDelay() time.Duration {
	min, max := r.cfg.MinRetry, r.cfg.MaxRetry
	if r.lastDelay < min {
		return min
	}
	span := int64(r.lastDelay*3 - min)
	d := min + time.Duration(rand.Int63n(span+1))
	if d > max {
		d = max
	}
	return d
}

// Snapshot returns a consistent view of the replica's live state.
func (r *Replica) Snapshot() ReplicaSnapshot {
	r.leader.mu.Lock()
	defer r.leader.mu.Unlock()
	return r.snapshotLocked()
}

// Shutdown stops further push scheduling and cancels the pending retry.
func (r *Replica) Shutdown() {
	r.leader.mu.Lock()
	defer r.leader.mu.Unlock()
	r.shutdownLocked()
}

// snapshotLocked captures the replica's live state. Caller holds
// leader.mu.
func (r *Replica) snapshotLocked() ReplicaSnapshot {
	return ReplicaSnapshot{
		Name:      r.name,
		State:     r.state,
		Accepted:  r.accepted,
		Committed: r.committed,
		Error:     r.lastErr,
		RetryAt:   r.retryAt,
	}
}

// shutdownLocked stops further scheduling and cancels the pending retry.
// Caller holds leader.mu.
func (r *Replica) shutdownLocked() {
	r.closed = true
	r.pending = nil
	if r.retryTmr != nil {
		r.retryTmr.Stop()
		r.retryTmr = nil
	}
}
