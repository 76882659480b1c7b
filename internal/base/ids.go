// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/redact"

// SstID identifies an immutable sorted table.
type SstID uint64

// SafeValue implements redact.SafeValue.
func (SstID) SafeValue() {}

// TableID identifies a user namespace (a state table) whose keys are stored
// in sstables. One sstable may hold keys of several tables.
type TableID uint32

// SafeValue implements redact.SafeValue.
func (TableID) SafeValue() {}

// CompactionGroupID identifies a partition of the keyspace with its own
// compaction configuration and level state.
type CompactionGroupID uint64

// SafeValue implements redact.SafeValue.
func (CompactionGroupID) SafeValue() {}

// TaskID identifies a compaction task.
type TaskID uint64

// SafeValue implements redact.SafeValue.
func (TaskID) SafeValue() {}

var _ redact.SafeValue = SstID(0)
var _ redact.SafeValue = TableID(0)
var _ redact.SafeValue = CompactionGroupID(0)
var _ redact.SafeValue = TaskID(0)
