// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunable surface of the ketch consensus core:
// system-wide settings shared by every leader in the process, and the
// per-replica options recognised in replica configuration blocks.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTxnNamespace is the reference prefix holding transaction state.
	DefaultTxnNamespace = "refs/txn/"

	// DefaultMaxWaitForMonotonicClock bounds how long a round blocks for a
	// proposed timestamp to become past.
	DefaultMaxWaitForMonotonicClock = 5 * time.Second

	// DefaultMinRetry is the shortest delay before a failed replica push is
	// retried.
	DefaultMinRetry = 5 * time.Second

	// DefaultMaxRetry caps the delay between replica push retries.
	DefaultMaxRetry = time.Minute
)

// Participation describes whether a replica votes on rounds.
type Participation int

const (
	// Full replicas vote; a majority of them is required to commit.
	Full Participation = iota
	// FollowerOnly replicas receive every update but never vote.
	FollowerOnly
)

func (p Participation) String() string {
	switch p {
	case Full:
		return "full"
	case FollowerOnly:
		return "followerOnly"
	default:
		return "unknown"
	}
}

// CommitMethod describes how a replica publishes committed state.
type CommitMethod int

const (
	// TxnCommitted publishes by moving the transactional committed
	// reference only.
	TxnCommitted CommitMethod = iota
	// AllRefs additionally expands the committed tree into direct updates
	// of every ordinary reference, so readers unaware of the transaction
	// namespace observe the published state.
	AllRefs
)

func (m CommitMethod) String() string {
	switch m {
	case TxnCommitted:
		return "txnCommitted"
	case AllRefs:
		return "allRefs"
	default:
		return "unknown"
	}
}

// CommitSpeed describes how eagerly committed state is pushed out.
type CommitSpeed int

const (
	// Batched folds commit publication into the next round's push.
	Batched CommitSpeed = iota
	// Fast publishes committed state immediately after every accept.
	Fast
)

func (s CommitSpeed) String() string {
	switch s {
	case Batched:
		return "batched"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// System is the process-wide configuration shared by every leader.
type System struct {
	// TxnNamespace is the reference prefix holding transaction state.
	// Must begin with "refs/" and end with "/".
	TxnNamespace string `json:"txnNamespace" yaml:"txnNamespace"`

	// MaxWaitForMonotonicClock bounds the block on a proposed timestamp.
	MaxWaitForMonotonicClock time.Duration `json:"maxWaitForMonotonicClock" yaml:"maxWaitForMonotonicClock"`

	// RequireMonotonicLeaderElections rejects an election whose proposed
	// timestamp is before the previous accepted commit's time.
	RequireMonotonicLeaderElections bool `json:"requireMonotonicLeaderElections" yaml:"requireMonotonicLeaderElections"`

	// CommitterName and CommitterEmail identify the system committer used
	// for election and proposal commits.
	CommitterName  string `json:"committerName" yaml:"committerName"`
	CommitterEmail string `json:"committerEmail" yaml:"committerEmail"`
}

// DefaultSystem returns the default system configuration.
func DefaultSystem() System {
	return System{
		TxnNamespace:             DefaultTxnNamespace,
		MaxWaitForMonotonicClock: DefaultMaxWaitForMonotonicClock,
		CommitterName:            "ketch",
		CommitterEmail:           "ketch@localhost",
	}
}

// Valid returns an error if the configuration is invalid.
func (s System) Valid() error {
	switch {
	case !strings.HasPrefix(s.TxnNamespace, "refs/"):
		return fmt.Errorf("txnNamespace = %q: fails the condition that: the namespace begins with \"refs/\"", s.TxnNamespace)
	case !strings.HasSuffix(s.TxnNamespace, "/"):
		return fmt.Errorf("txnNamespace = %q: fails the condition that: the namespace ends with \"/\"", s.TxnNamespace)
	case s.MaxWaitForMonotonicClock <= 0:
		return fmt.Errorf("maxWaitForMonotonicClock = %d: fails the condition that: 0 < maxWaitForMonotonicClock", s.MaxWaitForMonotonicClock)
	}
	return nil
}

// AcceptedName returns the name of the accepted reference.
func (s System) AcceptedName() string {
	return s.TxnNamespace + "accepted"
}

// CommittedName returns the name of the committed reference.
func (s System) CommittedName() string {
	return s.TxnNamespace + "committed"
}

// StagePrefix returns the prefix under which stage references are created.
func (s System) StagePrefix() string {
	return s.TxnNamespace + "stage/"
}

// Replica holds the per-replica options recognised by the core.
type Replica struct {
	Participation Participation `json:"type" yaml:"type"`
	CommitMethod  CommitMethod  `json:"commit" yaml:"commit"`
	CommitSpeed   CommitSpeed   `json:"speed" yaml:"speed"`
	MinRetry      time.Duration `json:"minRetry" yaml:"minRetry"`
	MaxRetry      time.Duration `json:"maxRetry" yaml:"maxRetry"`
}

// DefaultReplica returns the default replica configuration: a full voter
// publishing only the transactional committed reference, batched pacing.
func DefaultReplica() Replica {
	return Replica{
		Participation: Full,
		CommitMethod:  TxnCommitted,
		CommitSpeed:   Batched,
		MinRetry:      DefaultMinRetry,
		MaxRetry:      DefaultMaxRetry,
	}
}

// Valid returns an error if the replica configuration is invalid.
func (r Replica) Valid() error {
	switch {
	case r.MinRetry <= 0:
		return fmt.Errorf("minRetry = %d: fails the condition that: 0 < minRetry", r.MinRetry)
	case r.MaxRetry < r.MinRetry:
		return fmt.Errorf("minRetry = %d, maxRetry = %d: fails the condition that: minRetry <= maxRetry", r.MinRetry, r.MaxRetry)
	}
	return nil
}

// ParseReplica builds a replica configuration from the recognised string
// options. Unrecognised keys are rejected.
func ParseReplica(opts map[string]string) (Replica, error) {
	r := DefaultReplica()
	for key, value := range opts {
		switch key {
		case "type":
			switch value {
			case "full":
				r.Participation = Full
			case "followerOnly":
				r.Participation = FollowerOnly
			default:
				return Replica{}, fmt.Errorf("type = %q: must be one of full, followerOnly", value)
			}
		case "commit":
			switch value {
			case "txnCommitted":
				r.CommitMethod = TxnCommitted
			case "allRefs":
				r.CommitMethod = AllRefs
			default:
				return Replica{}, fmt.Errorf("commit = %q: must be one of txnCommitted, allRefs", value)
			}
		case "speed":
			switch value {
			case "batched":
				r.CommitSpeed = Batched
			case "fast":
				r.CommitSpeed = Fast
			default:
				return Replica{}, fmt.Errorf("speed = %q: must be one of batched, fast", value)
			}
		case "minRetry":
			d, err := ParseDuration(value)
			if err != nil {
				return Replica{}, fmt.Errorf("minRetry: %w", err)
			}
			r.MinRetry = d
		case "maxRetry":
			d, err := ParseDuration(value)
			if err != nil {
				return Replica{}, fmt.Errorf("maxRetry: %w", err)
			}
			r.MaxRetry = d
		default:
			return Replica{}, fmt.Errorf("unrecognised replica option %q", key)
		}
	}
	if err := r.Valid(); err != nil {
		return Replica{}, err
	}
	return r, nil
}

// ParseDuration parses a duration string with one of the unit suffixes
// ms, s, min, h or d. A bare number is rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var unit time.Duration
	var digits string
	switch {
	case strings.HasSuffix(s, "ms"):
		unit, digits = time.Millisecond, strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "min"):
		unit, digits = time.Minute, strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "s"):
		unit, digits = time.Second, strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "h"):
		unit, digits = time.Hour, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		unit, digits = 24*time.Hour, strings.TrimSuffix(s, "d")
	default:
		return 0, fmt.Errorf("duration %q: missing unit suffix (ms|s|min|h|d)", s)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration %q: must not be negative", s)
	}
	return time.Duration(n) * unit, nil
}
