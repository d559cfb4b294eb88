// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock supplies monotonic proposed timestamps. A leader obtains a
// timestamp, writes it into a commit, and then blocks until real time has
// advanced past the proposed instant before sending the commit to any
// replica, so no two leaders can publish commits that appear to run
// backwards in time.
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeUncertain is returned when a proposed timestamp could not be
// proven to be in the past.
var ErrTimeUncertain = errors.New("time is uncertain")

// Timestamp is a proposed commit time.
type Timestamp struct {
	t time.Time
}

// Time returns the proposed instant.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// BlockUntil waits until the proposed instant has passed. If ctx expires
// first the timestamp cannot be trusted and ErrTimeUncertain is returned.
func (ts Timestamp) BlockUntil(ctx context.Context) error {
	d := time.Until(ts.t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeUncertain, ctx.Err())
	}
}

// Clock proposes commit timestamps.
type Clock interface {
	Propose() Timestamp
}

// System is a Clock backed by the system wall clock.
type System struct{}

// Propose returns the current time as a proposed timestamp.
func (System) Propose() Timestamp {
	return Timestamp{t: time.Now()}
}

// Manual is a Clock whose time is set explicitly. Used in tests.
type Manual struct {
	Now time.Time
}

// Propose returns the manually set time.
func (m *Manual) Propose() Timestamp {
	return Timestamp{t: m.Now}
}
