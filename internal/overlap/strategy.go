// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package overlap provides facilities for checking whether sstables have key
// range overlap.
package overlap

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// Mode selects the overlap Strategy used by a compaction group.
type Mode uint8

const (
	// ModeUnspecified is the zero value; it is rejected by configuration
	// validation.
	ModeUnspecified Mode = iota
	// ModeRange compares the bounding key ranges of sstables.
	ModeRange
)

func (m Mode) String() string {
	switch m {
	case ModeRange:
		return "range"
	default:
		return "unspecified"
	}
}

// SafeValue implements redact.SafeValue.
func (Mode) SafeValue() {}

// ParseMode parses the name returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "range", "Range":
		return ModeRange, nil
	}
	return ModeUnspecified, errors.Newf("unknown compaction mode %q", s)
}

// Strategy decides whether sstables overlap. All methods are pure.
type Strategy interface {
	// CheckOverlap returns true if the key ranges of the two sstables share
	// at least one key.
	CheckOverlap(a, b *manifest.SstableInfo) bool
	// CheckBaseLevelOverlap returns the sub-slice of others (which must be
	// sorted and non-overlapping) that intersects the bounding range of
	// tables.
	CheckBaseLevelOverlap(tables, others []*manifest.SstableInfo) []*manifest.SstableInfo
	// CheckOverlapWithTables returns, in order, every sstable of others that
	// overlaps at least one sstable of tables. Unlike CheckBaseLevelOverlap,
	// others may overlap each other.
	CheckOverlapWithTables(tables, others []*manifest.SstableInfo) []*manifest.SstableInfo
	// NewInfo returns an empty accumulator.
	NewInfo() Info
}

// Info accumulates the key space of a growing set of sstables.
type Info interface {
	// Update adds the range to the accumulated key space.
	Update(r base.KeyRange)
	// CheckOverlap returns true if the sstable intersects the accumulated key
	// space.
	CheckOverlap(sst *manifest.SstableInfo) bool
	// CheckMultipleOverlap returns the bounds [start, end) of the sstables of
	// a sorted non-overlapping run that intersect the accumulated key space.
	CheckMultipleOverlap(ssts []*manifest.SstableInfo) (start, end int)
}

// NewStrategy returns the strategy for the given mode.
func NewStrategy(mode Mode) Strategy {
	switch mode {
	case ModeRange:
		return RangeStrategy{}
	default:
		panic(errors.AssertionFailedf("no overlap strategy for compaction mode %s", mode))
	}
}

// RangeStrategy treats an sstable as occupying its entire key range.
type RangeStrategy struct{}

var _ Strategy = RangeStrategy{}

// CheckOverlap implements Strategy.
func (RangeStrategy) CheckOverlap(a, b *manifest.SstableInfo) bool {
	return a.KeyRange.Overlaps(b.KeyRange)
}

// CheckBaseLevelOverlap implements Strategy.
func (s RangeStrategy) CheckBaseLevelOverlap(
	tables, others []*manifest.SstableInfo,
) []*manifest.SstableInfo {
	info := s.NewInfo()
	for _, t := range tables {
		info.Update(t.KeyRange)
	}
	start, end := info.CheckMultipleOverlap(others)
	return others[start:end]
}

// CheckOverlapWithTables implements Strategy.
func (s RangeStrategy) CheckOverlapWithTables(
	tables, others []*manifest.SstableInfo,
) []*manifest.SstableInfo {
	var res []*manifest.SstableInfo
	for _, o := range others {
		for _, t := range tables {
			if s.CheckOverlap(t, o) {
				res = append(res, o)
				break
			}
		}
	}
	return res
}

// NewInfo implements Strategy.
func (RangeStrategy) NewInfo() Info {
	return &RangeInfo{r: base.KeyRangeEndExclusive(nil, []byte{})}
}

// RangeInfo is the Info of RangeStrategy: the bounding range of everything
// added so far.
type RangeInfo struct {
	r base.KeyRange
}

var _ Info = (*RangeInfo)(nil)

// Update implements Info.
func (i *RangeInfo) Update(r base.KeyRange) {
	i.r = i.r.Extend(r)
}

// CheckOverlap implements Info.
func (i *RangeInfo) CheckOverlap(sst *manifest.SstableInfo) bool {
	return i.r.Overlaps(sst.KeyRange)
}

// CheckMultipleOverlap implements Info.
func (i *RangeInfo) CheckMultipleOverlap(ssts []*manifest.SstableInfo) (start, end int) {
	if i.r.IsEmpty() {
		return 0, 0
	}
	start = sort.Search(len(ssts), func(j int) bool {
		return !ssts[j].KeyRange.EndsBefore(i.r.Left)
	})
	end = start
	for end < len(ssts) && !i.r.EndsBefore(ssts[end].KeyRange.Left) {
		end++
	}
	return start, end
}

// KeyRange returns the accumulated range. It is empty if nothing was added.
func (i *RangeInfo) KeyRange() base.KeyRange {
	return i.r
}
