// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"context"

	"github.com/luxfi/ketch/refs"
)

// Transport pushes one atomic batch of reference updates to a remote
// peer. Implementations open a connection to the peer's advertised
// references, validate that the expected old value of each transactional
// command matches the advertisement — failing the whole batch with an
// error wrapping gitstore.ErrLockFailure otherwise, while still
// returning the advertisement so the caller can classify the peer's lag
// — and apply the batch atomically.
type Transport interface {
	Push(ctx context.Context, cmds []*refs.Command) (RefAdvertisement, error)
}

// remoteDriver adapts a Transport to the replica push hook.
type remoteDriver struct {
	t Transport
}

func (d remoteDriver) push(ctx context.Context, cmds []*refs.Command) (RefAdvertisement, error) {
	return d.t.Push(ctx, cmds)
}
