// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"testing"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *SstableInfo {
	t.Helper()
	m, err := ParseSstableInfoDebug(s)
	require.NoError(t, err)
	return m
}

func TestSstableInfoDebugString(t *testing.T) {
	for _, s := range []string{
		"5:[a-c]",
		"7:[b-d) size:10 tables:[1,2] epochs:[3-9] keys:100 stale:20 tombstones:1",
	} {
		m := mustParse(t, s)
		require.Equal(t, s, m.DebugString(true))
	}

	m := mustParse(t, "7:[b-d) size:10 tables:[1,4]")
	require.Equal(t, "7:[b-d)", m.String())
	require.True(t, m.KeyRange.RightExclusive)
	require.True(t, m.ContainsTable(4))
	require.False(t, m.ContainsTable(2))

	_, err := ParseSstableInfoDebug("1:[c-a]")
	require.Error(t, err)
	_, err = ParseSstableInfoDebug("1:[a-c] tables:[2,1]")
	require.Error(t, err)
	_, err = ParseSstableInfoDebug("1:[a-c] color:blue")
	require.Error(t, err)
}

func TestCanConcat(t *testing.T) {
	a := mustParse(t, "1:[a-b]")
	b := mustParse(t, "2:[c-d]")
	bExcl := mustParse(t, "3:[b-c)")
	c := mustParse(t, "4:[c-e]")

	require.True(t, CanConcat(nil))
	require.True(t, CanConcat([]*SstableInfo{a}))
	require.True(t, CanConcat([]*SstableInfo{a, b}))
	require.False(t, CanConcat([]*SstableInfo{b, a}))
	require.False(t, CanConcat([]*SstableInfo{a, bExcl}))
	require.True(t, CanConcat([]*SstableInfo{bExcl, c}))
	require.False(t, CanConcat([]*SstableInfo{b, c}))

	require.Equal(t, "[a, d]", KeyRangeOf([]*SstableInfo{a, b}).String())
	require.True(t, KeyRangeOf(nil).IsEmpty())

	ssts := []*SstableInfo{c, b, a}
	SortByKey(ssts)
	require.Equal(t, []base.SstID{1, 2, 4}, []base.SstID{ssts[0].SstID, ssts[1].SstID, ssts[2].SstID})
}

func TestParseLevels(t *testing.T) {
	const input = `L0.1 overlapping:
  1:[a-c] size:10
  2:[b-d] size:5
L0.3:
  3:[a-b] size:2
  4:[e-f] size:3
L1:
  10:[a-f] size:100
L3:
  20:[a-m] size:1000
  21:[n-z] size:1000
`
	levels, err := ParseLevels(7, 4, input+"members: 1, 2\n")
	require.NoError(t, err)
	require.Equal(t, input, levels.String())
	require.Equal(t, base.CompactionGroupID(7), levels.GroupID)
	require.Equal(t, 4, levels.MaxLevel())
	require.Equal(t, uint64(20), levels.L0.TotalFileSize)
	require.Equal(t, 4, levels.L0.FileCount())
	require.Equal(t, 7, levels.FileCount())
	require.Equal(t, LevelTypeOverlapping, levels.L0.SubLevels[0].LevelType)
	require.Equal(t, LevelTypeNonoverlapping, levels.L0.SubLevels[1].LevelType)
	require.Equal(t, uint64(2000), levels.GetLevel(3).TotalFileSize)
	require.Empty(t, levels.GetLevel(2).TableInfos)
	require.Equal(t, []base.TableID{1, 2}, levels.MemberTableIDs)

	m, level, ok := levels.FindSstable(20)
	require.True(t, ok)
	require.Equal(t, 3, level)
	require.Equal(t, uint64(1000), m.FileSize)
	_, _, ok = levels.FindSstable(99)
	require.False(t, ok)

	require.Panics(t, func() { levels.GetLevel(0) })
	require.Panics(t, func() { levels.GetLevel(5) })
}

func TestParseLevelsErrors(t *testing.T) {
	for _, input := range []string{
		// Overlapping sstables in a non-overlapping level.
		"L1:\n  1:[a-c]\n  2:[b-d]\n",
		// Duplicate sstable ids.
		"L0.1:\n  1:[a-c]\nL1:\n  1:[x-z]\n",
		// Sub-level ids must increase.
		"L0.2:\n  1:[a-c]\nL0.1:\n  2:[a-c]\n",
		// Level out of range.
		"L9:\n  1:[a-c]\n",
		// Only L0 sub-levels may overlap.
		"L2 overlapping:\n  1:[a-c]\n",
		// Sstable without a level.
		"1:[a-c]\n",
	} {
		_, err := ParseLevels(1, 6, input)
		require.Errorf(t, err, "%q", input)
	}
}
