// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/invariants"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/swiss"
)

// runningTask is the per-task bookkeeping of a LevelHandler.
type runningTask struct {
	taskID        base.TaskID
	targetLevel   uint32
	ssts          []base.SstID
	totalFileSize uint64
}

// LevelHandler tracks which sstables of one level are claimed by in-flight
// compaction tasks. An sstable is claimed by at most one task; a claim is
// released when its task is removed.
//
// LevelHandler is not safe for concurrent use; callers serialize access per
// compaction group.
type LevelHandler struct {
	level uint32
	// pendingSsts maps a claimed sstable to the task that claimed it.
	pendingSsts     swiss.Map[base.SstID, base.TaskID]
	pendingFileSize uint64
	pendingTasks    []runningTask
}

// NewLevelHandler returns a handler with no claims.
func NewLevelHandler(level uint32) *LevelHandler {
	h := &LevelHandler{level: level}
	h.pendingSsts.Init(0)
	return h
}

// Level returns the index of the level tracked by the handler.
func (h *LevelHandler) Level() uint32 {
	return h.level
}

// AddPendingTask claims ssts for the task. Claiming an sstable that is
// already pending is a contract violation and panics.
func (h *LevelHandler) AddPendingTask(
	taskID base.TaskID, targetLevel uint32, ssts []*manifest.SstableInfo,
) {
	if len(ssts) == 0 {
		return
	}
	for _, s := range ssts {
		if other, ok := h.pendingSsts.Get(s.SstID); ok {
			panic(errors.AssertionFailedf("L%d: sstable %d claimed by task %d is already pending in task %d",
				h.level, s.SstID, taskID, other))
		}
	}
	// A task with several input sub-levels in L0 claims them one at a time.
	idx := slices.IndexFunc(h.pendingTasks, func(t runningTask) bool { return t.taskID == taskID })
	if idx < 0 {
		h.pendingTasks = append(h.pendingTasks, runningTask{taskID: taskID, targetLevel: targetLevel})
		idx = len(h.pendingTasks) - 1
	}
	t := &h.pendingTasks[idx]
	var added uint64
	for _, s := range ssts {
		h.pendingSsts.Put(s.SstID, taskID)
		t.ssts = append(t.ssts, s.SstID)
		added += s.FileSize
	}
	t.totalFileSize += added
	h.pendingFileSize += added
}

// RemoveTask releases every claim of the task. Removing an unknown task is a
// no-op.
func (h *LevelHandler) RemoveTask(taskID base.TaskID) {
	h.pendingTasks = slices.DeleteFunc(h.pendingTasks, func(t runningTask) bool {
		if t.taskID != taskID {
			return false
		}
		for _, id := range t.ssts {
			h.pendingSsts.Delete(id)
		}
		h.pendingFileSize = invariants.SafeSub(h.pendingFileSize, t.totalFileSize)
		return true
	})
}

// IsPendingCompact returns true if the sstable is claimed.
func (h *LevelHandler) IsPendingCompact(id base.SstID) bool {
	_, ok := h.pendingSsts.Get(id)
	return ok
}

// PendingTaskIDBySst returns the task that claimed the sstable.
func (h *LevelHandler) PendingTaskIDBySst(id base.SstID) (base.TaskID, bool) {
	return h.pendingSsts.Get(id)
}

// IsLevelPendingCompact returns true if any sstable of the level is claimed.
func (h *LevelHandler) IsLevelPendingCompact(level *manifest.Level) bool {
	if h.pendingSsts.Len() == 0 {
		return false
	}
	for _, t := range level.TableInfos {
		if h.IsPendingCompact(t.SstID) {
			return true
		}
	}
	return false
}

// IsLevelAllPendingCompact returns true if every sstable of a non-empty level
// is claimed.
func (h *LevelHandler) IsLevelAllPendingCompact(level *manifest.Level) bool {
	if len(level.TableInfos) == 0 {
		return false
	}
	for _, t := range level.TableInfos {
		if !h.IsPendingCompact(t.SstID) {
			return false
		}
	}
	return true
}

// PendingFileCount returns the number of claimed sstables.
func (h *LevelHandler) PendingFileCount() int {
	return h.pendingSsts.Len()
}

// PendingFileSize returns the total size of the claimed sstables.
func (h *LevelHandler) PendingFileSize() uint64 {
	return h.pendingFileSize
}

// PendingOutputFileSize returns the input size of the tasks of this level
// that write into targetLevel.
func (h *LevelHandler) PendingOutputFileSize(targetLevel uint32) uint64 {
	var size uint64
	for i := range h.pendingTasks {
		if h.pendingTasks[i].targetLevel == targetLevel {
			size += h.pendingTasks[i].totalFileSize
		}
	}
	return size
}

// PendingTaskIDs returns the ids of the tasks with claims in this level, in
// the order they were added.
func (h *LevelHandler) PendingTaskIDs() []base.TaskID {
	ids := make([]base.TaskID, 0, len(h.pendingTasks))
	for i := range h.pendingTasks {
		ids = append(ids, h.pendingTasks[i].taskID)
	}
	return ids
}

// Clone returns an independent copy of the handler.
func (h *LevelHandler) Clone() *LevelHandler {
	n := &LevelHandler{
		level:           h.level,
		pendingFileSize: h.pendingFileSize,
		pendingTasks:    make([]runningTask, len(h.pendingTasks)),
	}
	n.pendingSsts.Init(h.pendingSsts.Len())
	h.pendingSsts.All(func(id base.SstID, task base.TaskID) bool {
		n.pendingSsts.Put(id, task)
		return true
	})
	for i, t := range h.pendingTasks {
		t.ssts = slices.Clone(t.ssts)
		n.pendingTasks[i] = t
	}
	return n
}

// String describes the pending tasks of the level, e.g.
//
//	L0: task 3 -> L1 [1 2] (20 B)
func (h *LevelHandler) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "L%d:", h.level)
	if len(h.pendingTasks) == 0 {
		b.WriteString(" no pending tasks")
	}
	for i := range h.pendingTasks {
		t := &h.pendingTasks[i]
		fmt.Fprintf(&b, " task %d -> L%d %v (%d B)", t.taskID, t.targetLevel, t.ssts, t.totalFileSize)
	}
	return b.String()
}
