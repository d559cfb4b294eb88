// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gitstore is a content-addressed commit and tree store layered
// over a database.Database. Objects are addressed by the SHA-256 of their
// canonical encoding, so identical content always yields the identical
// id on every replica.
package gitstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/crypto/hashing"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

var (
	commitPrefix = []byte("c/")
	treePrefix   = []byte("t/")
)

// Ident identifies the author or committer of a commit.
type Ident struct {
	Name  string
	Email string
	When  time.Time
}

func (i Ident) String() string {
	return fmt.Sprintf("%s <%s> %d +0000", i.Name, i.Email, i.When.Unix())
}

func parseIdent(s string) (Ident, error) {
	open := strings.LastIndex(s, " <")
	end := strings.LastIndex(s, "> ")
	if open < 0 || end < open {
		return Ident{}, fmt.Errorf("malformed ident %q", s)
	}
	name := s[:open]
	email := s[open+2 : end]
	fields := strings.Fields(s[end+2:])
	if len(fields) < 1 {
		return Ident{}, fmt.Errorf("malformed ident %q", s)
	}
	unix, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Ident{}, fmt.Errorf("malformed ident time %q", s)
	}
	return Ident{Name: name, Email: email, When: time.Unix(unix, 0).UTC()}, nil
}

// Commit is a reference-tree commit: a tree snapshot linked to its
// predecessors.
type Commit struct {
	Tree      ids.ID
	Parents   []ids.ID
	Author    Ident
	Committer Ident
	Message   string
}

// Store reads and writes commits and trees.
type Store struct {
	db database.Database
}

// New returns a store over db.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// PutCommit persists c and returns its content id. Writing the same
// commit twice yields the same id.
func (s *Store) PutCommit(c *Commit) (ids.ID, error) {
	enc := encodeCommit(c)
	id := ids.ID(hashing.ComputeHash256Array(enc))
	if err := s.db.Put(commitKey(id), enc); err != nil {
		return ids.Empty, err
	}
	return id, nil
}

// GetCommit loads the commit id. database.ErrNotFound is returned when
// the store does not have it.
func (s *Store) GetCommit(id ids.ID) (*Commit, error) {
	enc, err := s.db.Get(commitKey(id))
	if err != nil {
		return nil, err
	}
	return decodeCommit(enc)
}

// HasCommit reports whether the store holds a commit id.
func (s *Store) HasCommit(id ids.ID) (bool, error) {
	return s.db.Has(commitKey(id))
}

// PutTree persists an encoded reference tree and returns its content id.
func (s *Store) PutTree(data []byte) (ids.ID, error) {
	id := ids.ID(hashing.ComputeHash256Array(data))
	if err := s.db.Put(treeKey(id), data); err != nil {
		return ids.Empty, err
	}
	return id, nil
}

// GetTree loads an encoded reference tree.
func (s *Store) GetTree(id ids.ID) ([]byte, error) {
	return s.db.Get(treeKey(id))
}

// Descends reports whether ancestor is reachable from descendant by
// parent links. A commit descends from itself. Commits absent from the
// store terminate the walk.
func (s *Store) Descends(descendant, ancestor ids.ID) (bool, error) {
	if descendant == ids.Empty || ancestor == ids.Empty {
		return false, nil
	}
	visited := make(map[ids.ID]struct{})
	queue := []ids.ID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == ancestor {
			return true, nil
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		c, err := s.GetCommit(id)
		if err == database.ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		queue = append(queue, c.Parents...)
	}
	return false, nil
}

func commitKey(id ids.ID) []byte {
	return append(append([]byte(nil), commitPrefix...), id[:]...)
}

func treeKey(id ids.ID) []byte {
	return append(append([]byte(nil), treePrefix...), id[:]...)
}

func encodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %x\n", c.Tree[:])
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %x\n", p[:])
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func decodeCommit(enc []byte) (*Commit, error) {
	header, message, ok := strings.Cut(string(enc), "\n\n")
	if !ok {
		return nil, fmt.Errorf("malformed commit: missing message separator")
	}
	c := &Commit{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed commit header %q", line)
		}
		switch key {
		case "tree":
			id, err := parseID(value)
			if err != nil {
				return nil, err
			}
			c.Tree = id
		case "parent":
			id, err := parseID(value)
			if err != nil {
				return nil, err
			}
			c.Parents = append(c.Parents, id)
		case "author":
			ident, err := parseIdent(value)
			if err != nil {
				return nil, err
			}
			c.Author = ident
		case "committer":
			ident, err := parseIdent(value)
			if err != nil {
				return nil, err
			}
			c.Committer = ident
		default:
			return nil, fmt.Errorf("unrecognised commit header %q", key)
		}
	}
	return c, nil
}

func parseID(s string) (ids.ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ids.Empty, fmt.Errorf("malformed object id %q", s)
	}
	id, err := ids.ToID(raw)
	if err != nil {
		return ids.Empty, fmt.Errorf("malformed object id %q: %w", s, err)
	}
	return id, nil
}
