// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package hummock plans compactions for a leveled LSM whose layout is owned
// by an external version manager.
//
// The layout of a compaction group (a manifest.Levels) has an L0 made of
// sub-levels, oldest first, and levels 1 through MaxLevel holding sorted
// runs. Given a layout, a CompactionSelector uses one or more pickers to find
// a CompactionInput, claims its sstables in the group's LevelHandlers and
// returns the task parameters; CompactStatus wraps the result into a
// CompactTask. Claims are released by ReportCompactTask once the scheduler
// learns the outcome of the task, whatever it is.
//
// Every picker preserves the epoch order of keys: an sstable is never moved
// below an older sstable it overlaps unless that sstable is part of the same
// compaction.
//
// Planning does no I/O. A Planner serializes the calls for each group and
// lets different groups plan concurrently.
package hummock
