// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"sync"
	"time"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// groupStates holds per-group picker state. The map is guarded by mu; a
// group's state itself is only touched under the group's lock.
type groupStates[S any] struct {
	mu     sync.Mutex
	states map[base.CompactionGroupID]*S
}

func (g *groupStates[S]) get(id base.CompactionGroupID) *S {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states == nil {
		g.states = make(map[base.CompactionGroupID]*S)
	}
	s, ok := g.states[id]
	if !ok {
		s = new(S)
		g.states[id] = s
	}
	return s
}

// finishTask claims the input and derives the output parameters using the
// current level sizing.
func finishTask(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	input *CompactionInput,
	taskType TaskType,
) *CompactionTask {
	core := NewDynamicLevelSelectorCore(group.Config)
	ctx := core.CalculateLevelBaseSize(levels)
	input.AddPendingTask(taskID, handlers)
	return core.CreateCompactionTask(input, ctx.BaseLevel, taskType)
}

// TTLCompactionSelector reclaims expired data from the bottom level, one
// budget-sized run at a time, resuming where the previous pick ended.
type TTLCompactionSelector struct {
	states groupStates[TTLPickerState]
	// Now returns the current time; it defaults to time.Now.
	Now func() time.Time
}

var _ CompactionSelector = (*TTLCompactionSelector)(nil)

// PickCompaction implements CompactionSelector.
func (s *TTLCompactionSelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	_ *LocalSelectorStatistic,
	tableOptions map[base.TableID]TableOption,
) *CompactionTask {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	picker := ttlReclaimCompactionPicker{
		maxReclaimBytes: group.Config.MaxSpaceReclaimBytes,
		tableOptions:    tableOptions,
		now:             now(),
	}
	input := picker.pickCompaction(levels, handlers, s.states.get(group.ID))
	if input == nil {
		return nil
	}
	return finishTask(taskID, group, levels, handlers, input, s.TaskType())
}

// State returns the scan state of a group.
func (s *TTLCompactionSelector) State(id base.CompactionGroupID) *TTLPickerState {
	return s.states.get(id)
}

// Name implements CompactionSelector.
func (s *TTLCompactionSelector) Name() string { return "TtlCompaction" }

// TaskType implements CompactionSelector.
func (s *TTLCompactionSelector) TaskType() TaskType { return TaskTypeTTL }

// SpaceReclaimCompactionSelector deletes the data of dropped tables.
type SpaceReclaimCompactionSelector struct {
	states groupStates[SpaceReclaimPickerState]
}

var _ CompactionSelector = (*SpaceReclaimCompactionSelector)(nil)

// PickCompaction implements CompactionSelector.
func (s *SpaceReclaimCompactionSelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	_ *LocalSelectorStatistic,
	_ map[base.TableID]TableOption,
) *CompactionTask {
	picker := spaceReclaimCompactionPicker{maxSpaceReclaimBytes: group.Config.MaxSpaceReclaimBytes}
	input := picker.pickCompaction(levels, handlers, s.states.get(group.ID))
	if input == nil {
		return nil
	}
	return finishTask(taskID, group, levels, handlers, input, s.TaskType())
}

// Name implements CompactionSelector.
func (s *SpaceReclaimCompactionSelector) Name() string { return "SpaceReclaimCompaction" }

// TaskType implements CompactionSelector.
func (s *SpaceReclaimCompactionSelector) TaskType() TaskType { return TaskTypeSpaceReclaim }

// TombstoneCompactionSelector rewrites sstables dominated by stale keys or
// range tombstones.
type TombstoneCompactionSelector struct {
	states groupStates[TombstonePickerState]
}

var _ CompactionSelector = (*TombstoneCompactionSelector)(nil)

// PickCompaction implements CompactionSelector.
func (s *TombstoneCompactionSelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	stats *LocalSelectorStatistic,
	_ map[base.TableID]TableOption,
) *CompactionTask {
	picker := tombstoneReclaimCompactionPicker{
		ratio:    group.Config.TombstoneReclaimRatio,
		strategy: NewDynamicLevelSelectorCore(group.Config).strategy(),
	}
	var pickerStats LocalPickerStatistic
	state := s.states.get(group.ID)
	input := picker.pickCompaction(levels, handlers, state, &pickerStats)
	if input == nil {
		stats.recordSkip(0, 0, pickerStats)
		return nil
	}
	return finishTask(taskID, group, levels, handlers, input, s.TaskType())
}

// Name implements CompactionSelector.
func (s *TombstoneCompactionSelector) Name() string { return "TombstoneCompaction" }

// TaskType implements CompactionSelector.
func (s *TombstoneCompactionSelector) TaskType() TaskType { return TaskTypeTombstone }

// ManualCompactionSelector runs a single operator requested compaction.
type ManualCompactionSelector struct {
	Option ManualCompactionOption
}

var _ CompactionSelector = (*ManualCompactionSelector)(nil)

// NewManualCompactionSelector returns a selector for the option.
func NewManualCompactionSelector(option ManualCompactionOption) *ManualCompactionSelector {
	return &ManualCompactionSelector{Option: option}
}

// PickCompaction implements CompactionSelector.
func (s *ManualCompactionSelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	stats *LocalSelectorStatistic,
	_ map[base.TableID]TableOption,
) *CompactionTask {
	core := NewDynamicLevelSelectorCore(group.Config)
	ctx := core.CalculateLevelBaseSize(levels)
	picker := manualCompactionPicker{
		option:    s.Option,
		baseLevel: ctx.BaseLevel,
		strategy:  core.strategy(),
	}
	var pickerStats LocalPickerStatistic
	input := picker.pickCompaction(levels, handlers, &pickerStats)
	if input == nil {
		stats.recordSkip(s.Option.Level, s.Option.Level, pickerStats)
		return nil
	}
	input.AddPendingTask(taskID, handlers)
	return core.CreateCompactionTask(input, ctx.BaseLevel, s.TaskType())
}

// Name implements CompactionSelector.
func (s *ManualCompactionSelector) Name() string { return "ManualCompaction" }

// TaskType implements CompactionSelector.
func (s *ManualCompactionSelector) TaskType() TaskType { return TaskTypeManual }

// EmergencySelector drains L0 once it reaches the write stop threshold.
type EmergencySelector struct{}

var _ CompactionSelector = (*EmergencySelector)(nil)

// PickCompaction implements CompactionSelector.
func (s *EmergencySelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	stats *LocalSelectorStatistic,
	_ map[base.TableID]TableOption,
) *CompactionTask {
	cfg := group.Config
	if !cfg.EnableEmergencyPicker ||
		uint64(len(levels.L0.SubLevels)) < cfg.Level0StopWriteThresholdSubLevelNumber {
		return nil
	}
	core := NewDynamicLevelSelectorCore(cfg)
	ctx := core.CalculateLevelBaseSize(levels)
	picker := emergencyCompactionPicker{
		targetLevel: ctx.BaseLevel,
		config:      cfg,
		strategy:    core.strategy(),
	}
	var pickerStats LocalPickerStatistic
	input := picker.pickCompaction(levels, handlers, &pickerStats)
	if input == nil {
		stats.recordSkip(0, ctx.BaseLevel, pickerStats)
		return nil
	}
	input.AddPendingTask(taskID, handlers)
	return core.CreateCompactionTask(input, ctx.BaseLevel, s.TaskType())
}

// Name implements CompactionSelector.
func (s *EmergencySelector) Name() string { return "EmergencyCompaction" }

// TaskType implements CompactionSelector.
func (s *EmergencySelector) TaskType() TaskType { return TaskTypeEmergency }
