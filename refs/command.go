// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package refs models proposed reference updates and the in-memory
// reference tree they are validated against.
package refs

import (
	"fmt"

	"github.com/luxfi/ids"
)

// Result is the outcome of a single reference update command.
type Result int

const (
	// NotAttempted commands have not reached a terminal outcome yet.
	NotAttempted Result = iota
	// OK commands were applied.
	OK
	// RejectedMissingObject commands referenced an object the repository
	// does not have.
	RejectedMissingObject
	// RejectedNonFastForward commands would have rewound a reference.
	RejectedNonFastForward
	// RejectedOtherReason commands failed validation for another reason.
	RejectedOtherReason
	// LockFailure commands expected an old value the reference no longer
	// holds.
	LockFailure
	// Aborted commands belonged to a proposal that was aborted.
	Aborted
)

func (r Result) String() string {
	switch r {
	case NotAttempted:
		return "NOT_ATTEMPTED"
	case OK:
		return "OK"
	case RejectedMissingObject:
		return "REJECTED_MISSING_OBJECT"
	case RejectedNonFastForward:
		return "REJECTED_NONFASTFORWARD"
	case RejectedOtherReason:
		return "REJECTED_OTHER_REASON"
	case LockFailure:
		return "LOCK_FAILURE"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Target is the value a reference points at: either an object id or a
// symbolic reference to another name.
type Target struct {
	ID     ids.ID
	Symref string
}

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool {
	return t.ID == ids.Empty && t.Symref == ""
}

// Command is one proposed reference update: move Name from Old to New.
// A zero Old expects the reference to be absent; a zero New deletes it.
type Command struct {
	Name string
	Old  ids.ID
	New  Target

	result  Result
	message string
}

// NewCommand returns a command updating name from old to the object new.
func NewCommand(name string, old, new ids.ID) *Command {
	return &Command{Name: name, Old: old, New: Target{ID: new}}
}

// NewSymrefCommand returns a command updating name from old to a symbolic
// reference to target.
func NewSymrefCommand(name string, old ids.ID, target string) *Command {
	return &Command{Name: name, Old: old, New: Target{Symref: target}}
}

// Result returns the command's current outcome.
func (c *Command) Result() Result {
	return c.result
}

// Message returns the text attached to the outcome, if any.
func (c *Command) Message() string {
	return c.message
}

// SetResult records the command's outcome.
func (c *Command) SetResult(r Result, msg string) {
	c.result = r
	c.message = msg
}

// Done reports whether the command has reached a terminal outcome.
func (c *Command) Done() bool {
	return c.result != NotAttempted
}

// Copy returns a command with the same update but a fresh outcome, so the
// same logical update can be pushed to several replicas independently.
func (c *Command) Copy() *Command {
	return &Command{Name: c.Name, Old: c.Old, New: c.New}
}

func (c *Command) String() string {
	if c.New.Symref != "" {
		return fmt.Sprintf("%s: %x -> ref: %s", c.Name, c.Old[:4], c.New.Symref)
	}
	return fmt.Sprintf("%s: %x -> %x", c.Name, c.Old[:4], c.New.ID[:4])
}
