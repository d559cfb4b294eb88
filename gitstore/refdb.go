// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gitstore

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/ketch/refs"
)

// ErrLockFailure is returned when a reference update expected an old
// value the reference no longer holds.
var ErrLockFailure = errors.New("reference lock failure")

var refPrefix = []byte("r/")

// RefDB is a replica's local reference database. Updates within a batch
// are applied one reference at a time; callers needing ordering apply
// ordinary references before the transactional ones.
type RefDB struct {
	db database.Database
}

// NewRefDB returns a reference database over db.
func NewRefDB(db database.Database) *RefDB {
	return &RefDB{db: db}
}

// Get returns the target of name. database.ErrNotFound is returned when
// the reference is absent.
func (r *RefDB) Get(name string) (refs.Target, error) {
	value, err := r.db.Get(refKey(name))
	if err != nil {
		return refs.Target{}, err
	}
	return decodeTarget(value)
}

// Refs returns every reference and its target.
func (r *RefDB) Refs() (map[string]refs.Target, error) {
	out := make(map[string]refs.Target)
	it := r.db.NewIteratorWithPrefix(refPrefix)
	defer it.Release()
	for it.Next() {
		name := string(it.Key()[len(refPrefix):])
		tgt, err := decodeTarget(it.Value())
		if err != nil {
			return nil, err
		}
		out[name] = tgt
	}
	return out, it.Error()
}

// Update applies cmds in order. With checkOld set, a command whose old
// value does not match the reference's current value fails the whole
// batch with ErrLockFailure; without it commands overwrite
// unconditionally. Commands before a failure stay applied: the database
// is not multi-reference atomic.
func (r *RefDB) Update(cmds []*refs.Command, checkOld bool) error {
	for _, cmd := range cmds {
		if checkOld {
			cur, err := r.Get(cmd.Name)
			if err != nil && err != database.ErrNotFound {
				return err
			}
			if cur.ID != cmd.Old {
				cmd.SetResult(refs.LockFailure, "old value does not match")
				return fmt.Errorf("%w: %s", ErrLockFailure, cmd.Name)
			}
		}
		if cmd.New.IsZero() {
			if err := r.db.Delete(refKey(cmd.Name)); err != nil {
				return err
			}
		} else {
			if err := r.db.Put(refKey(cmd.Name), encodeTarget(cmd.New)); err != nil {
				return err
			}
		}
		cmd.SetResult(refs.OK, "")
	}
	return nil
}

func refKey(name string) []byte {
	return append(append([]byte(nil), refPrefix...), name...)
}

func encodeTarget(t refs.Target) []byte {
	if t.Symref != "" {
		return []byte("ref: " + t.Symref)
	}
	return append([]byte(nil), t.ID[:]...)
}

func decodeTarget(value []byte) (refs.Target, error) {
	if len(value) > 5 && string(value[:5]) == "ref: " {
		return refs.Target{Symref: string(value[5:])}, nil
	}
	id, err := ids.ToID(value)
	if err != nil {
		return refs.Target{}, fmt.Errorf("malformed reference target of %d bytes", len(value))
	}
	return refs.Target{ID: id}, nil
}
