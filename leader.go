// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/ketch/clock"
	"github.com/luxfi/ketch/config"
	"github.com/luxfi/ketch/executor"
	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

const maxVoters = 9

// Leader orchestrates consensus for one repository: it validates and
// queues proposals, batches them into rounds, tallies replica votes, and
// publishes committed state. One mutex guards all of its mutable state
// and the live state of every replica it owns; no network I/O runs under
// it, though local store and reference-database reads do.
type Leader struct {
	key   string
	cfg   config.System
	log   log.Logger
	clock clock.Clock
	store *gitstore.Store
	refdb *gitstore.RefDB
	exec  *executor.Pool

	voters    []*Replica
	followers []*Replica

	metrics *leaderMetrics

	mu        sync.Mutex
	state     LeaderState
	term      uint64
	head      LogIndex
	committed LogIndex
	tree      *refs.Tree
	treeHeld  bool
	queue     []*Proposal
	running   round
	idle      bool
}

// NewLeader wires a leader for the repository identified by key. The
// replica set is fixed for the leader's lifetime: voters must number odd
// and at most 9, and the local replica must be among them.
func NewLeader(
	key string,
	cfg config.System,
	lg log.Logger,
	registerer prometheus.Registerer,
	clk clock.Clock,
	store *gitstore.Store,
	refdb *gitstore.RefDB,
	exec *executor.Pool,
	replicas []*Replica,
) (*Leader, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	metrics, err := newLeaderMetrics(registerer)
	if err != nil {
		return nil, err
	}
	l := &Leader{
		key:     key,
		cfg:     cfg,
		log:     lg,
		clock:   clk,
		store:   store,
		refdb:   refdb,
		exec:    exec,
		metrics: metrics,
		state:   StateCandidate,
		idle:    true,
	}
	localVoter := false
	for _, r := range replicas {
		if r.leader != nil {
			return nil, fmt.Errorf("replica %s is already bound to a leader", r.name)
		}
		r.leader = l
		if r.cfg.Participation == config.FollowerOnly {
			l.followers = append(l.followers, r)
			continue
		}
		l.voters = append(l.voters, r)
		if r.local {
			localVoter = true
		}
	}
	v := len(l.voters)
	switch {
	case v < 1 || v%2 == 0 || v > maxVoters:
		return nil, fmt.Errorf("voters = %d: fails the condition that: the voter count is odd and at most %d", v, maxVoters)
	case !localVoter:
		return nil, fmt.Errorf("voters = %d: fails the condition that: the local replica is a voter", v)
	}
	return l, nil
}

// QueueProposal validates proposal against the in-memory reference tree
// and either queues it or aborts it; completion is observed through the
// proposal's Await methods. A validation conflict aborts the proposal
// without error.
func (l *Leader) QueueProposal(ctx context.Context, p *Proposal) error {
	if err := ctx.Err(); err != nil {
		p.abort("interrupted while queueing")
		l.metrics.aborts.Inc()
		return err
	}
	l.mu.Lock()
	if l.state == StateShutdown || l.state == StateDeposed {
		state := l.state
		l.mu.Unlock()
		p.abort("leader is " + state.String())
		l.metrics.aborts.Inc()
		return nil
	}
	if l.tree == nil {
		if err := l.initTreeLocked(); err != nil {
			l.mu.Unlock()
			p.abort("repository state unavailable")
			l.metrics.aborts.Inc()
			return err
		}
	}
	if l.treeHeld {
		// A running round is still serialising this tree; mutate a copy.
		l.tree = l.tree.Copy()
		l.treeHeld = false
	}
	if !l.tree.Apply(p.Commands()) {
		l.mu.Unlock()
		p.abort("rejected by reference tree")
		l.metrics.aborts.Inc()
		return nil
	}
	p.setState(ProposalQueued)
	l.queue = append(l.queue, p)
	l.metrics.queueLen.Set(float64(len(l.queue)))
	schedule := l.idle
	if schedule {
		l.idle = false
	}
	l.mu.Unlock()
	if schedule {
		l.exec.Execute(l.runWorker)
	}
	return nil
}

// initTreeLocked loads the reference tree persisted at the accepted
// pointer, or starts empty on a brand-new repository, then replays every
// already-queued proposal. Caller holds l.mu.
func (l *Leader) initTreeLocked() error {
	tgt, err := l.refdb.Get(l.cfg.AcceptedName())
	switch {
	case err == nil && tgt.ID != ids.Empty:
		c, err := l.store.GetCommit(tgt.ID)
		if err != nil {
			return err
		}
		tree, err := refs.Read(l.store, c.Tree)
		if err != nil {
			return err
		}
		l.tree = tree
		l.head = UnknownIndex(tgt.ID)
	case err == nil || err == database.ErrNotFound:
		l.tree = refs.Empty()
		l.head = UnknownIndex(ids.Empty)
	default:
		return err
	}
	// The local replica already holds whatever the accepted pointer says.
	for _, r := range append(append([]*Replica(nil), l.voters...), l.followers...) {
		if r.local {
			r.accepted = l.head
		}
	}
	for _, p := range l.queue {
		if !l.tree.Apply(p.Commands()) {
			l.log.Warn("queued proposal no longer applies after tree reload",
				"repo", l.key)
		}
	}
	return nil
}

// runWorker is the leader's background task: when scheduled it chooses
// and starts the next round.
func (l *Leader) runWorker() {
	l.mu.Lock()
	var rnd round
	switch l.state {
	case StateCandidate:
		rnd = newElectionRound(l, l.head)
	case StateLeader:
		if len(l.queue) == 0 {
			l.idle = true
			l.mu.Unlock()
			return
		}
		todo := l.queue
		l.queue = nil
		l.metrics.queueLen.Set(0)
		l.treeHeld = true
		rnd = newProposalRound(l, l.head, todo, l.tree)
	default:
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.metrics.rounds.Inc()
	started := time.Now()
	err := rnd.start(context.Background())
	l.metrics.roundDuration.Observe(float64(time.Since(started).Milliseconds()))
	if err == nil {
		return
	}
	l.log.Warn("consensus round failed", "repo", l.key, "err", err)
	if pr, ok := rnd.(*proposalRound); ok {
		for _, p := range pr.todo {
			p.abort("round failed: " + err.Error())
			l.metrics.aborts.Inc()
		}
	}
	l.mu.Lock()
	l.nextRoundLocked()
	l.mu.Unlock()
}

// runAsync records the round as running, advances the head to its new
// position, and schedules a push to every replica. Invoked by the round
// from start.
func (l *Leader) runAsync(rnd round) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = rnd.newIndex()
	l.running = rnd
	for _, r := range l.voters {
		r.pushAcceptedAsync(rnd)
	}
	for _, r := range l.followers {
		r.pushAcceptedAsync(rnd)
	}
}

// onReplicaUpdate tallies votes after a replica push completes. On a
// majority for the running round the candidate becomes leader, the head
// becomes committed, and the round's proposals are notified. Caller
// holds l.mu.
func (l *Leader) onReplicaUpdate(r *Replica) {
	if r.cfg.Participation == config.FollowerOnly {
		return
	}
	if l.running == nil {
		return
	}
	votes := 0
	for _, v := range l.voters {
		if v.hasAccepted(l.head) {
			votes++
		}
	}
	if votes < len(l.voters)/2+1 {
		return
	}
	if l.state == StateCandidate {
		er, ok := l.running.(*electionRound)
		if !ok {
			l.log.Error("candidate is running a non-election round", "repo", l.key)
			return
		}
		l.term = er.term
		l.state = StateLeader
		l.log.Info("elected leader", "repo", l.key, "term", l.term, "head", l.head)
	}
	if l.state != StateLeader {
		l.log.Debug("ignoring vote tally", "repo", l.key, "state", l.state)
		return
	}
	l.committed = l.head
	l.metrics.commits.Inc()
	l.log.Debug("committed", "repo", l.key, "committed", l.committed, "votes", votes)
	rnd := l.running
	l.nextRoundLocked()
	l.commitAsyncLocked(r)

	// Proposal notifications run listeners; drop the lock around them.
	l.mu.Unlock()
	rnd.success()
	l.mu.Lock()
}

// commitAsyncLocked publishes the committed position to every replica
// whose pacing policy wants it now. The caller's replica is skipped when
// the push that just completed already carried the committed position.
// Caller holds l.mu.
func (l *Leader) commitAsyncLocked(caller *Replica) {
	for _, r := range append(append([]*Replica(nil), l.voters...), l.followers...) {
		if r == caller && r.committed.ID == l.committed.ID {
			continue
		}
		if r.shouldPushUnbatchedCommit(l.committed, l.idle) {
			r.pushCommitAsync(l.committed)
		}
	}
}

// nextRoundLocked clears the running round and either idles the leader
// or schedules the worker on a fresh executor task. Caller holds l.mu.
func (l *Leader) nextRoundLocked() {
	l.running = nil
	if len(l.queue) == 0 {
		l.idle = true
		return
	}
	l.exec.Execute(l.runWorker)
}

// releaseTree clears the round's hold on the in-memory reference tree.
func (l *Leader) releaseTree() {
	l.mu.Lock()
	l.treeHeld = false
	l.mu.Unlock()
}

// Snapshot returns an atomic view of the leader and its replicas.
func (l *Leader) Snapshot() LeaderSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := LeaderSnapshot{
		State:     l.state,
		Term:      l.term,
		Head:      l.head,
		Committed: l.committed,
		Idle:      l.idle,
	}
	for _, r := range l.voters {
		s.Replicas = append(s.Replicas, r.snapshotLocked())
	}
	for _, r := range l.followers {
		s.Replicas = append(s.Replicas, r.snapshotLocked())
	}
	return s
}

// Shutdown stops the leader and its replicas. Proposals still queued are
// not drained; callers observing the shutdown treat them as aborted.
func (l *Leader) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateShutdown {
		return
	}
	l.state = StateShutdown
	for _, r := range l.voters {
		r.shutdownLocked()
	}
	for _, r := range l.followers {
		r.shutdownLocked()
	}
}

// systemIdent returns the configured system committer at when.
func (l *Leader) systemIdent(when time.Time) gitstore.Ident {
	return gitstore.Ident{
		Name:  l.cfg.CommitterName,
		Email: l.cfg.CommitterEmail,
		When:  when,
	}
}

// authorIdent resolves a proposal's author, defaulting to the system
// identity and filling a missing timestamp.
func (l *Leader) authorIdent(a *gitstore.Ident, when time.Time) gitstore.Ident {
	if a == nil {
		return l.systemIdent(when)
	}
	ident := *a
	if ident.When.IsZero() {
		ident.When = when
	}
	return ident
}

// identEqual compares two author identities by name and email, treating
// nil as the system identity.
func (l *Leader) identEqual(a, b *gitstore.Ident) bool {
	an, ae := l.cfg.CommitterName, l.cfg.CommitterEmail
	if a != nil {
		an, ae = a.Name, a.Email
	}
	bn, be := l.cfg.CommitterName, l.cfg.CommitterEmail
	if b != nil {
		bn, be = b.Name, b.Email
	}
	return an == bn && ae == be
}
