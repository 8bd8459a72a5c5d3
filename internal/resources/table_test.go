// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimAndRelease(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Claim(0, 1))
	require.NoError(t, tbl.Claim(3, 2))

	assert.Equal(t, ClientID(1), tbl.OwnerOf(0))
	assert.Equal(t, FreeCore, tbl.OwnerOf(1))
	assert.Equal(t, ClientID(2), tbl.OwnerOf(3))
	assert.Equal(t, 2, tbl.FreeCores())

	require.NoError(t, tbl.Release(0, 1))
	assert.Equal(t, FreeCore, tbl.OwnerOf(0))
}

func TestClaimAlreadyOwnedIsInvariantViolation(t *testing.T) {
	tbl := NewTable(2)
	require.NoError(t, tbl.Claim(0, 1))
	err := tbl.Claim(0, 2)
	assert.Error(t, err)
}

func TestReleaseWrongOwnerIsInvariantViolation(t *testing.T) {
	tbl := NewTable(2)
	require.NoError(t, tbl.Claim(0, 1))
	err := tbl.Release(0, 2)
	assert.Error(t, err)
}

func TestFreeCoresOrdering(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Claim(1, 1))
	assert.Equal(t, []int{3, 2, 0}, tbl.FreeCoresHighToLow())
	assert.Equal(t, []int{0, 2, 3}, tbl.FreeCoresLowToHigh())
}

func TestReleaseAll(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Claim(0, 1))
	require.NoError(t, tbl.Claim(1, 1))
	require.NoError(t, tbl.Claim(2, 2))
	tbl.ReleaseAll(1)
	assert.Equal(t, FreeCore, tbl.OwnerOf(0))
	assert.Equal(t, FreeCore, tbl.OwnerOf(1))
	assert.Equal(t, ClientID(2), tbl.OwnerOf(2))
}
