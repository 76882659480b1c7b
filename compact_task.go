// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/redact"
)

// TaskType tags a task with the selector that created it.
type TaskType uint8

// Task types.
const (
	TaskTypeUnspecified TaskType = iota
	TaskTypeDynamic
	TaskTypeSpaceReclaim
	TaskTypeManual
	TaskTypeSharedBuffer
	TaskTypeTTL
	TaskTypeTombstone
	TaskTypeEmergency
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeDynamic:
		return "dynamic"
	case TaskTypeSpaceReclaim:
		return "space-reclaim"
	case TaskTypeManual:
		return "manual"
	case TaskTypeSharedBuffer:
		return "shared-buffer"
	case TaskTypeTTL:
		return "ttl"
	case TaskTypeTombstone:
		return "tombstone"
	case TaskTypeEmergency:
		return "emergency"
	default:
		return "unspecified"
	}
}

// SafeValue implements redact.SafeValue.
func (TaskType) SafeValue() {}

// TaskStatus is the lifecycle state of a task.
type TaskStatus uint8

// Task statuses. A task is Pending until the scheduler reports an outcome.
const (
	TaskStatusUnspecified TaskStatus = iota
	TaskStatusPending
	TaskStatusSuccess
	TaskStatusFailed
	TaskStatusCanceled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "pending"
	case TaskStatusSuccess:
		return "success"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusCanceled:
		return "canceled"
	default:
		return "unspecified"
	}
}

// SafeValue implements redact.SafeValue.
func (TaskStatus) SafeValue() {}

// CompactTask is the descriptor of a compaction handed to a worker.
type CompactTask struct {
	TaskID            base.TaskID
	CompactionGroupID base.CompactionGroupID
	// InputSsts lists the input runs; see CompactionInput.InputLevels.
	InputSsts []manifest.InputLevel
	// Splits partitions the output key space for sub-compactions.
	Splits []base.KeyRange
	// Watermark is the epoch below which old versions may be dropped.
	Watermark        base.Epoch
	TargetLevel      uint32
	TargetSubLevelID uint64
	BaseLevel        uint32
	TaskType         TaskType
	TaskStatus       TaskStatus
	// GCDeleteKeys is set when the output goes to the bottom level, where no
	// older version can be shadowed by a delete marker.
	GCDeleteKeys         bool
	CompressionAlgorithm CompressionAlgorithm
	TargetFileSize       uint64
	CompactionFilterMask uint32
	SplitByStateTable    bool
	SplitWeightByVnode   uint32
	// ExistingTableIDs are the member tables of the group when the task was
	// created.
	ExistingTableIDs []base.TableID
	TableOptions     map[base.TableID]TableOption
	CurrentEpochTime base.Epoch
}

// InputFileCount returns the number of input sstables.
func (t *CompactTask) InputFileCount() int {
	n := 0
	for i := range t.InputSsts {
		n += len(t.InputSsts[i].TableInfos)
	}
	return n
}

// InputFileSize returns the total size of the input sstables.
func (t *CompactTask) InputFileSize() uint64 {
	var size uint64
	for i := range t.InputSsts {
		size += t.InputSsts[i].TotalFileSize()
	}
	return size
}

// SafeFormat implements redact.SafeFormatter.
func (t *CompactTask) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("task %d (group %d, %s): ", t.TaskID, t.CompactionGroupID, t.TaskType)
	for i := range t.InputSsts {
		if i > 0 {
			w.SafeString(" + ")
		}
		w.Print(t.InputSsts[i])
	}
	w.Printf(" -> L%d", t.TargetLevel)
	if t.TargetLevel == 0 {
		w.Printf(".%d", t.TargetSubLevelID)
	}
	w.Printf(" base:L%d file-size:%d compression:%s", t.BaseLevel, t.TargetFileSize, t.CompressionAlgorithm)
	if t.GCDeleteKeys {
		w.SafeString(" gc-delete-keys")
	}
	if t.TaskStatus != TaskStatusPending {
		w.Printf(" status:%s", t.TaskStatus)
	}
}

func (t *CompactTask) String() string {
	return redact.StringWithoutMarkers(t)
}
