// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// SstableInfo is the immutable descriptor of one sorted table. It is owned by
// the version manager; the planner only reads it.
type SstableInfo struct {
	SstID    base.SstID
	KeyRange base.KeyRange
	// TableIDs holds the sorted ids of the tables with keys in this sstable.
	TableIDs []base.TableID
	FileSize uint64
	MinEpoch base.Epoch
	MaxEpoch base.Epoch
	// StaleKeyCount is the number of keys shadowed by newer versions or
	// deleted.
	StaleKeyCount       uint64
	TotalKeyCount       uint64
	RangeTombstoneCount uint64
}

// ContainsTable returns true if the sstable holds keys of the given table.
func (s *SstableInfo) ContainsTable(id base.TableID) bool {
	_, ok := slices.BinarySearch(s.TableIDs, id)
	return ok
}

// DebugString returns a verbose representation of the sstable which can be
// parsed back with ParseSstableInfoDebug.
func (s *SstableInfo) DebugString(verbose bool) string {
	var b strings.Builder
	closer := "]"
	if s.KeyRange.RightExclusive {
		closer = ")"
	}
	fmt.Fprintf(&b, "%d:[%s-%s%s", s.SstID, s.KeyRange.Left, s.KeyRange.Right, closer)
	if !verbose {
		return b.String()
	}
	if s.FileSize != 0 {
		fmt.Fprintf(&b, " size:%d", s.FileSize)
	}
	if len(s.TableIDs) > 0 {
		b.WriteString(" tables:[")
		for i, id := range s.TableIDs {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%d", id)
		}
		b.WriteString("]")
	}
	if s.MinEpoch != 0 || s.MaxEpoch != 0 {
		fmt.Fprintf(&b, " epochs:[%d-%d]", s.MinEpoch, s.MaxEpoch)
	}
	if s.TotalKeyCount != 0 {
		fmt.Fprintf(&b, " keys:%d", s.TotalKeyCount)
	}
	if s.StaleKeyCount != 0 {
		fmt.Fprintf(&b, " stale:%d", s.StaleKeyCount)
	}
	if s.RangeTombstoneCount != 0 {
		fmt.Fprintf(&b, " tombstones:%d", s.RangeTombstoneCount)
	}
	return b.String()
}

func (s *SstableInfo) String() string {
	return s.DebugString(false)
}

// Validate checks the internal consistency of the descriptor.
func (s *SstableInfo) Validate() error {
	if s.KeyRange.IsEmpty() {
		return errors.Newf("sstable %d has an empty key range %s", s.SstID, s.KeyRange)
	}
	if !slices.IsSorted(s.TableIDs) {
		return errors.Newf("sstable %d has unsorted table ids %v", s.SstID, s.TableIDs)
	}
	if s.MinEpoch > s.MaxEpoch {
		return errors.Newf("sstable %d has min epoch %d > max epoch %d", s.SstID, s.MinEpoch, s.MaxEpoch)
	}
	return nil
}

// CanConcat returns true if the sstables are sorted by key and pairwise
// disjoint, so that they can be read (or moved) as a single sorted run.
func CanConcat(ssts []*SstableInfo) bool {
	for i := 1; i < len(ssts); i++ {
		if !ssts[i-1].KeyRange.EndsBefore(ssts[i].KeyRange.Left) {
			return false
		}
	}
	return true
}

// TotalFileSize returns the sum of the sizes of the given sstables.
func TotalFileSize(ssts []*SstableInfo) uint64 {
	var size uint64
	for _, s := range ssts {
		size += s.FileSize
	}
	return size
}

// KeyRangeOf returns the smallest key range covering all the sstables.
func KeyRangeOf(ssts []*SstableInfo) base.KeyRange {
	if len(ssts) == 0 {
		return base.KeyRangeEndExclusive(nil, []byte{})
	}
	r := ssts[0].KeyRange
	for _, s := range ssts[1:] {
		r = r.Extend(s.KeyRange)
	}
	return r
}

// SortByKey sorts sstables by their start key, then by end key.
func SortByKey(ssts []*SstableInfo) {
	slices.SortFunc(ssts, func(a, b *SstableInfo) int {
		if c := bytes.Compare(a.KeyRange.Left, b.KeyRange.Left); c != 0 {
			return c
		}
		return a.KeyRange.CompareRight(b.KeyRange)
	})
}
