// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestLogIndex(t *testing.T) {
	require := require.New(t)

	unknown := UnknownIndex(ids.Empty)
	require.Equal(uint64(0), unknown.Index)

	a := unknown.Next(ids.GenerateTestID())
	require.Equal(uint64(1), a.Index)
	b := a.Next(ids.GenerateTestID())
	require.Equal(uint64(2), b.Index)

	require.True(a.IsBefore(b))
	require.True(a.IsBefore(a))
	require.False(b.IsBefore(a))
	require.True(unknown.IsBefore(a))
}

func TestLogIndexString(t *testing.T) {
	require := require.New(t)

	require.Contains(UnknownIndex(ids.Empty).String(), "0@")
	id := ids.GenerateTestID()
	require.NotEmpty(UnknownIndex(id).Next(id).String())
}
