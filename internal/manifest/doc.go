// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest describes the read-only layout of a compaction group that
// the planner works on: sstable descriptors, levels and the L0 sub-levels.
//
// L0 is a stack of sub-levels ordered from oldest (index 0, smallest
// sub-level id) to youngest. A sub-level is either overlapping (its tables
// may share keys) or non-overlapping (its tables are sorted and disjoint).
// Levels 1 and below are always non-overlapping. For any user key, a version
// in a younger sub-level has a larger epoch than a version in an older
// sub-level, and every version in L0 is younger than every version in L1+;
// the same holds between Ln and Ln+1. Compaction planning must never produce
// a layout that breaks this ordering.
package manifest
