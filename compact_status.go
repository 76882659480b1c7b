// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// CompactStatus is the compaction state of one compaction group: a
// LevelHandler per level tracking the sstables claimed by running tasks.
//
// CompactStatus is not safe for concurrent use; callers hold a lock per
// group across GetCompactTask and ReportCompactTask.
type CompactStatus struct {
	GroupID       base.CompactionGroupID
	LevelHandlers []*LevelHandler
}

// NewCompactStatus returns a status with no claims for levels 0 through
// maxLevel.
func NewCompactStatus(groupID base.CompactionGroupID, maxLevel int) *CompactStatus {
	s := &CompactStatus{
		GroupID:       groupID,
		LevelHandlers: make([]*LevelHandler, maxLevel+1),
	}
	for i := range s.LevelHandlers {
		s.LevelHandlers[i] = NewLevelHandler(uint32(i))
	}
	return s
}

// MaxLevel returns the index of the bottommost level.
func (s *CompactStatus) MaxLevel() int {
	return len(s.LevelHandlers) - 1
}

// GetCompactTask asks the selector for a task and, if it finds one, returns
// the task with its input sstables claimed. ExistingTableIDs, TableOptions
// and CurrentEpochTime are left for the caller to fill.
func (s *CompactStatus) GetCompactTask(
	levels *manifest.Levels,
	taskID base.TaskID,
	group *CompactionGroup,
	stats *LocalSelectorStatistic,
	selector CompactionSelector,
	tableOptions map[base.TableID]TableOption,
) *CompactTask {
	if levels.MaxLevel() != s.MaxLevel() {
		panic(errors.AssertionFailedf("group %d: layout has %d levels, status tracks %d",
			s.GroupID, levels.MaxLevel(), s.MaxLevel()))
	}
	ret := selector.PickCompaction(taskID, group, levels, s.LevelHandlers, stats, tableOptions)
	if ret == nil {
		return nil
	}
	compression, err := parseCompressionAlgorithm(ret.CompressionAlgorithm)
	if err != nil {
		compression = CompressionNone
	}
	cfg := group.Config
	return &CompactTask{
		TaskID:               taskID,
		CompactionGroupID:    s.GroupID,
		InputSsts:            ret.Input.InputLevels,
		Splits:               []base.KeyRange{base.InfKeyRange()},
		Watermark:            base.MaxEpoch,
		TargetLevel:          ret.Input.TargetLevel,
		TargetSubLevelID:     ret.Input.TargetSubLevelID,
		BaseLevel:            uint32(ret.BaseLevel),
		TaskType:             ret.TaskType,
		TaskStatus:           TaskStatusPending,
		GCDeleteKeys:         int(ret.Input.TargetLevel) == s.MaxLevel(),
		CompressionAlgorithm: compression,
		TargetFileSize:       ret.TargetFileSize,
		CompactionFilterMask: cfg.CompactionFilterMask,
		SplitByStateTable:    cfg.SplitByStateTable,
		SplitWeightByVnode:   cfg.SplitWeightByVnode,
	}
}

// ReportCompactTask releases the claims of the task in every level it has
// input in, whatever its outcome. Reporting a task twice is a no-op.
func (s *CompactStatus) ReportCompactTask(task *CompactTask) {
	for i := range task.InputSsts {
		s.LevelHandlers[task.InputSsts[i].LevelIdx].RemoveTask(task.TaskID)
	}
}

// Clone returns an independent copy of the status.
func (s *CompactStatus) Clone() *CompactStatus {
	n := &CompactStatus{GroupID: s.GroupID, LevelHandlers: make([]*LevelHandler, len(s.LevelHandlers))}
	for i, h := range s.LevelHandlers {
		n.LevelHandlers[i] = h.Clone()
	}
	return n
}

// PendingTaskIDs returns the ids of the running tasks of the group.
func (s *CompactStatus) PendingTaskIDs() []base.TaskID {
	var ids []base.TaskID
	for _, h := range s.LevelHandlers {
		for _, id := range h.PendingTaskIDs() {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *CompactStatus) String() string {
	var b strings.Builder
	for _, h := range s.LevelHandlers {
		if len(h.pendingTasks) > 0 {
			b.WriteString(h.String())
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return "no pending tasks\n"
	}
	return b.String()
}

// hasTableData returns true if some input sstable lists the tables it holds.
func hasTableData(task *CompactTask) bool {
	for i := range task.InputSsts {
		for _, sst := range task.InputSsts[i].TableInfos {
			if len(sst.TableIDs) > 0 {
				return true
			}
		}
	}
	return false
}

// IsTrivialMoveTask returns true if the task can be completed by moving its
// input sstables to the target level without rewriting them: either a single
// sorted run of L0, or a sorted run of one level moving into an empty range
// of the next.
func IsTrivialMoveTask(task *CompactTask) bool {
	switch len(task.InputSsts) {
	case 1:
		in := &task.InputSsts[0]
		return in.LevelIdx == 0 && manifest.CanConcat(in.TableInfos)
	case 2:
	default:
		return false
	}
	upper, lower := &task.InputSsts[0], &task.InputSsts[1]
	if upper.LevelType != manifest.LevelTypeNonoverlapping {
		return false
	}
	// Same level rewrites are never moves.
	if upper.LevelIdx == lower.LevelIdx && upper.LevelIdx != 0 {
		return false
	}
	return lower.LevelIdx == task.TargetLevel &&
		len(lower.TableInfos) == 0 &&
		manifest.CanConcat(upper.TableInfos)
}

// IsTrivialReclaim returns true if every input sstable holds only data of
// tables that no longer exist, so the task can delete them without reading.
// A task whose sstables list no tables at all is not a trivial reclaim.
func IsTrivialReclaim(task *CompactTask) bool {
	if !hasTableData(task) {
		return false
	}
	for i := range task.InputSsts {
		for _, sst := range task.InputSsts[i].TableInfos {
			for _, id := range sst.TableIDs {
				if slices.Contains(task.ExistingTableIDs, id) {
					return false
				}
			}
		}
	}
	return true
}
