// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across the compaction planner:
// identifiers for tables, sstables, compaction groups and tasks, epochs, user
// key ranges and the logging interface.
//
// # Epochs
//
// An [Epoch] orders the versions of a single user key. Its high bits hold a
// physical timestamp in milliseconds since [EpochOrigin]; the low 16 bits are
// a logical counter. Retention (TTL) decisions only ever look at the physical
// part.
//
// # Key ranges
//
// A [KeyRange] always has an inclusive start. The end is inclusive unless
// RightExclusive is set, and a nil Right means the range is unbounded above.
// An empty range (start after end) overlaps nothing.
package base
