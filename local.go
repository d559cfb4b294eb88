// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"

	"github.com/luxfi/ketch/config"
	"github.com/luxfi/ketch/gitstore"
	"github.com/luxfi/ketch/refs"
)

// NewLocalReplica returns the replica embedded in the leader's own
// process, applying pushes straight through the local reference
// database.
func NewLocalReplica(name string, cfg config.Replica, refdb *gitstore.RefDB) *Replica {
	r := &Replica{name: name, cfg: cfg, local: true}
	r.driver = &localDriver{replica: r, refdb: refdb}
	return r
}

// localDriver applies pushes through the in-process reference database.
// The database is not multi-reference atomic, so updates are ordered:
// ordinary references first, then accepted, then committed. A failure
// part-way can therefore never leave an advanced accepted or committed
// pointer referring to objects behind the ordinary references.
type localDriver struct {
	replica *Replica
	refdb   *gitstore.RefDB
}

func (d *localDriver) push(_ context.Context, cmds []*refs.Command) (RefAdvertisement, error) {
	cfg := d.replica.leader.cfg
	var ordinary, accepted, committed []*refs.Command
	for _, cmd := range cmds {
		switch cmd.Name {
		case cfg.AcceptedName():
			accepted = append(accepted, cmd)
		case cfg.CommittedName():
			committed = append(committed, cmd)
		default:
			ordinary = append(ordinary, cmd)
		}
	}
	if err := d.refdb.Update(ordinary, false); err != nil {
		return d.advertise(err)
	}
	if err := d.refdb.Update(accepted, true); err != nil {
		return d.advertise(err)
	}
	if err := d.refdb.Update(committed, true); err != nil {
		return d.advertise(err)
	}
	return d.advertise(nil)
}

// advertise returns the database's current references alongside err, so
// a lock failure still reports where the replica actually is.
func (d *localDriver) advertise(err error) (RefAdvertisement, error) {
	all, refsErr := d.refdb.Refs()
	if refsErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, refsErr
	}
	return RefAdvertisement(all), err
}
