// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

// ProposalState is the lifecycle state of a Proposal.
type ProposalState int

const (
	// ProposalNew proposals have not been handed to a leader yet.
	ProposalNew ProposalState = iota
	// ProposalQueued proposals are waiting in the leader's queue.
	ProposalQueued
	// ProposalRunning proposals are included in the round in flight.
	ProposalRunning
	// ProposalExecuted proposals committed on a majority of voters.
	ProposalExecuted
	// ProposalAborted proposals failed and will not be retried.
	ProposalAborted
)

func (s ProposalState) String() string {
	switch s {
	case ProposalNew:
		return "NEW"
	case ProposalQueued:
		return "QUEUED"
	case ProposalRunning:
		return "RUNNING"
	case ProposalExecuted:
		return "EXECUTED"
	case ProposalAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is final.
func (s ProposalState) Terminal() bool {
	return s == ProposalExecuted || s == ProposalAborted
}

// Proposal is one batch of reference updates submitted by a client. The
// leader drives it through its lifecycle; callers observe completion
// through the Await methods or a completion listener.
type Proposal struct {
	mu        sync.Mutex
	state     ProposalState
	changed   chan struct{}
	listeners []func()

	commands []*refs.Command
	author   *gitstore.Ident
	message  string
	pushCert string
}

// NewProposal returns a proposal carrying cmds.
func NewProposal(cmds ...*refs.Command) *Proposal {
	return &Proposal{
		state:    ProposalNew,
		changed:  make(chan struct{}),
		commands: cmds,
	}
}

// Commands returns the proposal's reference update commands.
func (p *Proposal) Commands() []*refs.Command {
	return p.commands
}

// Author returns the author identity, or nil for the system identity.
func (p *Proposal) Author() *gitstore.Ident {
	return p.author
}

// SetAuthor records the author identity of the proposal's commits.
func (p *Proposal) SetAuthor(a *gitstore.Ident) {
	p.author = a
}

// Message returns the message recorded in the proposal's commits.
func (p *Proposal) Message() string {
	return p.message
}

// SetMessage records the message of the proposal's commits.
func (p *Proposal) SetMessage(msg string) {
	p.message = msg
}

// PushCert returns the cryptographic push certificate, if any.
func (p *Proposal) PushCert() string {
	return p.pushCert
}

// SetPushCert attaches a cryptographic push certificate.
func (p *Proposal) SetPushCert(cert string) {
	p.pushCert = cert
}

// State returns the proposal's current lifecycle state.
func (p *Proposal) State() ProposalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Await blocks until the proposal reaches a terminal state or ctx is
// done.
func (p *Proposal) Await(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.state.Terminal() {
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitTimeout blocks up to d and reports whether the proposal reached a
// terminal state.
func (p *Proposal) AwaitTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.Await(ctx) == nil
}

// AwaitStateChange blocks up to d for the state to differ from state and
// reports whether it did.
func (p *Proposal) AwaitStateChange(state ProposalState, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		p.mu.Lock()
		if p.state != state {
			p.mu.Unlock()
			return true
		}
		ch := p.changed
		p.mu.Unlock()
		select {
		case <-ch:
		case <-deadline.C:
			return p.State() != state
		}
	}
}

// AddListener registers fn to run exactly once when the proposal reaches
// a terminal state. If it already has, fn runs synchronously on the
// caller.
func (p *Proposal) AddListener(fn func()) {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		fn()
		return
	}
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// setState moves the proposal to s, wakes every waiter, and on a terminal
// transition runs the registered listeners once.
func (p *Proposal) setState(s ProposalState) {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.state = s
	close(p.changed)
	p.changed = make(chan struct{})
	var listeners []func()
	if s.Terminal() {
		listeners = p.listeners
		p.listeners = nil
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// success marks the proposal executed. Commands that were never
// individually attempted succeeded as part of the round's combined
// commit, so NOT_ATTEMPTED is promoted to OK.
func (p *Proposal) success() {
	for _, cmd := range p.commands {
		if !cmd.Done() {
			cmd.SetResult(refs.OK, "")
		}
	}
	p.setState(ProposalExecuted)
}

// abort marks the proposal aborted, recording msg on every command that
// has no terminal result yet. Aborting a terminal proposal is a no-op.
func (p *Proposal) abort(msg string) {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	for _, cmd := range p.commands {
		if !cmd.Done() {
			cmd.SetResult(refs.Aborted, msg)
		}
	}
	p.setState(ProposalAborted)
}
