// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package refs

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/luxfi/ids"
)

// TreeReader reads serialised reference trees from an object store.
type TreeReader interface {
	GetTree(id ids.ID) ([]byte, error)
}

// TreeWriter persists serialised reference trees into an object store.
type TreeWriter interface {
	PutTree(data []byte) (ids.ID, error)
}

// Tree is the in-memory view of every reference name and its target.
// Apply is transactional: a batch either fully applies or leaves the tree
// unchanged.
type Tree struct {
	refs map[string]Target
}

// Empty returns a tree with no references.
func Empty() *Tree {
	return &Tree{refs: make(map[string]Target)}
}

// Read loads the tree object treeID from r. The zero id yields an empty
// tree.
func Read(r TreeReader, treeID ids.ID) (*Tree, error) {
	t := Empty()
	if treeID == ids.Empty {
		return t, nil
	}
	data, err := r.GetTree(treeID)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, " ")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed reference tree entry %q", line)
		}
		if sym, isSym := strings.CutPrefix(value, "ref: "); isSym {
			t.refs[name] = Target{Symref: sym}
			continue
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("malformed reference tree target %q", line)
		}
		id, err := ids.ToID(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed reference tree target %q: %w", line, err)
		}
		t.refs[name] = Target{ID: id}
	}
	return t, nil
}

// Copy returns a deep snapshot of the tree.
func (t *Tree) Copy() *Tree {
	c := &Tree{refs: make(map[string]Target, len(t.refs))}
	for name, tgt := range t.refs {
		c.refs[name] = tgt
	}
	return c
}

// Get returns the target of name.
func (t *Tree) Get(name string) (Target, bool) {
	tgt, ok := t.refs[name]
	return tgt, ok
}

// Len returns the number of references in the tree.
func (t *Tree) Len() int {
	return len(t.refs)
}

// Names returns every reference name in sorted order.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.refs))
	for name := range t.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every reference and its target.
func (t *Tree) All() map[string]Target {
	out := make(map[string]Target, len(t.refs))
	for name, tgt := range t.refs {
		out[name] = tgt
	}
	return out
}

// Apply validates and applies cmds as one transaction. On any conflict
// the offending command's result is set, the tree is left unchanged, and
// false is returned.
func (t *Tree) Apply(cmds []*Command) bool {
	scratch := make(map[string]Target, len(t.refs))
	for name, tgt := range t.refs {
		scratch[name] = tgt
	}
	seen := make(map[string]struct{}, len(cmds))
	for _, cmd := range cmds {
		if _, dup := seen[cmd.Name]; dup {
			cmd.SetResult(RejectedOtherReason, "duplicate name in batch")
			return false
		}
		seen[cmd.Name] = struct{}{}

		cur, exists := scratch[cmd.Name]
		switch {
		case !exists && cmd.Old != ids.Empty:
			cmd.SetResult(LockFailure, "reference is absent")
			return false
		case exists && cur.ID != cmd.Old:
			cmd.SetResult(LockFailure, "old value does not match")
			return false
		}

		if cmd.New.IsZero() {
			delete(scratch, cmd.Name)
			continue
		}
		if !exists {
			if conflict := nameConflict(scratch, cmd.Name); conflict != "" {
				cmd.SetResult(RejectedOtherReason, "name conflicts with "+conflict)
				return false
			}
		}
		scratch[cmd.Name] = cmd.New
	}
	t.refs = scratch
	return true
}

// nameConflict returns an existing name that occupies a prefix of name,
// or that name itself occupies a prefix of, treating "/" as a directory
// separator.
func nameConflict(refs map[string]Target, name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			if _, ok := refs[name[:i]]; ok {
				return name[:i]
			}
		}
	}
	prefix := name + "/"
	for existing := range refs {
		if strings.HasPrefix(existing, prefix) {
			return existing
		}
	}
	return ""
}

// Write persists the tree through w and returns its id.
func (t *Tree) Write(w TreeWriter) (ids.ID, error) {
	var buf bytes.Buffer
	for _, name := range t.Names() {
		tgt := t.refs[name]
		if tgt.Symref != "" {
			fmt.Fprintf(&buf, "%s ref: %s\n", name, tgt.Symref)
		} else {
			fmt.Fprintf(&buf, "%s %x\n", name, tgt.ID[:])
		}
	}
	return w.PutTree(buf.Bytes())
}
