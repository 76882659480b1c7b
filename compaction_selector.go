// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"cmp"
	"math"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// ScoreBase is the score of a level that is exactly at its size target.
// Only levels scoring above it are compacted by the dynamic selector.
const ScoreBase = 100

// CompactionTask is a picked input together with the output parameters
// derived from the group config. CompactStatus turns it into a CompactTask.
type CompactionTask struct {
	Input                *CompactionInput
	BaseLevel            int
	CompressionAlgorithm string
	TargetFileSize       uint64
	TaskType             TaskType
}

// CompactionSelector wraps one or more pickers with the policy deciding when
// and what to compact. A selector claims the sstables of the input it
// returns.
type CompactionSelector interface {
	// PickCompaction returns a task for the group, or nil if there is
	// nothing to do.
	PickCompaction(
		taskID base.TaskID,
		group *CompactionGroup,
		levels *manifest.Levels,
		handlers []*LevelHandler,
		stats *LocalSelectorStatistic,
		tableOptions map[base.TableID]TableOption,
	) *CompactionTask
	// Name is used in logs.
	Name() string
	// TaskType tags the tasks created by the selector.
	TaskType() TaskType
}

// SkippedPicker records why a picker produced nothing.
type SkippedPicker struct {
	StartLevel  int
	TargetLevel int
	Stats       LocalPickerStatistic
}

// LocalSelectorStatistic collects picker skips during selection. It is
// diagnostic only.
type LocalSelectorStatistic struct {
	SkipPickers []SkippedPicker
}

func (s *LocalSelectorStatistic) recordSkip(startLevel, targetLevel int, stats LocalPickerStatistic) {
	if s == nil || stats.Empty() {
		return
	}
	s.SkipPickers = append(s.SkipPickers, SkippedPicker{
		StartLevel:  startLevel,
		TargetLevel: targetLevel,
		Stats:       stats,
	})
}

// PickerType identifies the picker scheduled by a PickerInfo.
type PickerType uint8

// Picker types of the dynamic selector.
const (
	PickerTypeTier PickerType = iota
	PickerTypeIntra
	PickerTypeToBase
	PickerTypeBottomLevel
)

func (t PickerType) String() string {
	switch t {
	case PickerTypeTier:
		return "tier"
	case PickerTypeIntra:
		return "intra"
	case PickerTypeToBase:
		return "to-base"
	case PickerTypeBottomLevel:
		return "bottom-level"
	default:
		return "unknown"
	}
}

// SafeValue implements redact.SafeValue.
func (PickerType) SafeValue() {}

// PickerInfo is a scored compaction opportunity.
type PickerInfo struct {
	Score       uint64
	SelectLevel int
	TargetLevel int
	PickerType  PickerType
}

// SelectContext holds the level sizing of a layout.
type SelectContext struct {
	// BaseLevel is the level L0 compacts into.
	BaseLevel int
	// LevelMaxBytes is indexed by level; levels above the base level have
	// no size target (math.MaxUint64).
	LevelMaxBytes []uint64
	// ScoreLevels is sorted by descending score, then ascending target
	// level.
	ScoreLevels []PickerInfo
}

// DynamicLevelSelectorCore computes level sizing and scores from the group
// config, in the manner of RocksDB's dynamic level bytes.
type DynamicLevelSelectorCore struct {
	config *CompactionConfig
}

// NewDynamicLevelSelectorCore returns a core for the config.
func NewDynamicLevelSelectorCore(config *CompactionConfig) *DynamicLevelSelectorCore {
	return &DynamicLevelSelectorCore{config: config}
}

// CalculateLevelBaseSize picks the base level and the size target of every
// level from the base level down. The bottom level's size determines the
// rest: each level above it is MaxBytesForLevelMultiplier times smaller, and
// the base level is the highest level whose target is not below
// MaxBytesForLevelBase / MaxBytesForLevelMultiplier.
func (c *DynamicLevelSelectorCore) CalculateLevelBaseSize(levels *manifest.Levels) *SelectContext {
	maxLevel := levels.MaxLevel()
	ctx := &SelectContext{LevelMaxBytes: make([]uint64, maxLevel+1)}
	for i := range ctx.LevelMaxBytes {
		ctx.LevelMaxBytes[i] = math.MaxUint64
	}

	firstNonEmptyLevel := 0
	var maxLevelSize uint64
	for i := range levels.Levels {
		l := &levels.Levels[i]
		if l.TotalFileSize > 0 && firstNonEmptyLevel == 0 {
			firstNonEmptyLevel = int(l.LevelIdx)
		}
		maxLevelSize = max(maxLevelSize, l.TotalFileSize)
	}
	if maxLevelSize == 0 {
		ctx.BaseLevel = maxLevel
		return ctx
	}

	multiplier := c.config.MaxBytesForLevelMultiplier
	baseBytesMax := c.config.MaxBytesForLevelBase
	baseBytesMin := baseBytesMax / multiplier

	curLevelSize := maxLevelSize
	for i := firstNonEmptyLevel; i < maxLevel; i++ {
		curLevelSize /= multiplier
	}
	var baseLevelSize uint64
	ctx.BaseLevel = firstNonEmptyLevel
	if curLevelSize <= baseBytesMin {
		// The data below fits comfortably: keep the base level at the first
		// non-empty level.
		baseLevelSize = baseBytesMin + 1
	} else {
		for ctx.BaseLevel > 1 && curLevelSize > baseBytesMax {
			ctx.BaseLevel--
			curLevelSize /= multiplier
		}
		baseLevelSize = min(baseBytesMax, curLevelSize)
	}

	levelSize := baseLevelSize
	for i := ctx.BaseLevel; i <= maxLevel; i++ {
		ctx.LevelMaxBytes[i] = max(levelSize, baseBytesMax)
		levelSize = saturatingMul(levelSize, multiplier)
	}
	return ctx
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > math.MaxUint64/a {
		return math.MaxUint64
	}
	return a * b
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// GetPriorityLevels scores every compaction opportunity of the layout:
// merging overlapping L0 sub-levels (tier), moving L0 into the base level
// (to-base), merging non-overlapping L0 sub-levels (intra), and moving each
// level from the base level down into the next one (bottom-level).
func (c *DynamicLevelSelectorCore) GetPriorityLevels(
	levels *manifest.Levels, handlers []*LevelHandler,
) *SelectContext {
	ctx := c.CalculateLevelBaseSize(levels)
	maxLevel := levels.MaxLevel()

	l0 := &levels.L0
	idleFileCount := saturatingSub(uint64(l0.FileCount()), uint64(handlers[0].PendingFileCount()))
	if idleFileCount > 0 {
		var overlappingFileCount, nonOverlappingLevelCount uint64
		for i := range l0.SubLevels {
			if l0.SubLevels[i].LevelType == manifest.LevelTypeOverlapping {
				overlappingFileCount += uint64(len(l0.SubLevels[i].TableInfos))
			} else {
				nonOverlappingLevelCount++
			}
		}
		if overlappingFileCount > 0 {
			score := min(idleFileCount, overlappingFileCount) * ScoreBase /
				max(c.config.Level0TierCompactFileNumber, 1)
			ctx.ScoreLevels = append(ctx.ScoreLevels, PickerInfo{
				Score:       max(score, ScoreBase+1),
				SelectLevel: 0,
				TargetLevel: 0,
				PickerType:  PickerTypeTier,
			})
		}

		totalSize := saturatingSub(l0.TotalFileSize, handlers[0].PendingOutputFileSize(uint32(ctx.BaseLevel)))
		baseLevelSize := levels.GetLevel(ctx.BaseLevel).TotalFileSize
		baseLevelSstCount := uint64(len(levels.GetLevel(ctx.BaseLevel).TableInfos))
		sizeScore := totalSize * ScoreBase / max(c.config.MaxBytesForLevelBase, baseLevelSize, 1)
		levelScore := nonOverlappingLevelCount * ScoreBase /
			max(baseLevelSstCount/16, uint64(c.config.Level0SubLevelCompactLevelCount), 1)
		nonOverlappingScore := max(sizeScore, levelScore)
		if sizeScore > ScoreBase {
			ctx.ScoreLevels = append(ctx.ScoreLevels, PickerInfo{
				Score:       nonOverlappingScore + 1,
				SelectLevel: 0,
				TargetLevel: ctx.BaseLevel,
				PickerType:  PickerTypeToBase,
			})
		}
		if levelScore > ScoreBase {
			ctx.ScoreLevels = append(ctx.ScoreLevels, PickerInfo{
				Score:       nonOverlappingScore,
				SelectLevel: 0,
				TargetLevel: 0,
				PickerType:  PickerTypeIntra,
			})
		}
	}

	for level := ctx.BaseLevel; level < maxLevel; level++ {
		totalSize := saturatingSub(levels.GetLevel(level).TotalFileSize,
			handlers[level].PendingOutputFileSize(uint32(level+1)))
		if totalSize == 0 {
			continue
		}
		ctx.ScoreLevels = append(ctx.ScoreLevels, PickerInfo{
			Score:       totalSize * ScoreBase / ctx.LevelMaxBytes[level],
			SelectLevel: level,
			TargetLevel: level + 1,
			PickerType:  PickerTypeBottomLevel,
		})
	}

	slices.SortStableFunc(ctx.ScoreLevels, func(a, b PickerInfo) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.TargetLevel, b.TargetLevel)
	})
	return ctx
}

func (c *DynamicLevelSelectorCore) strategy() overlap.Strategy {
	return overlap.NewStrategy(c.config.CompactionMode)
}

func (c *DynamicLevelSelectorCore) createPicker(info PickerInfo, ctx *SelectContext) compactionPicker {
	switch info.PickerType {
	case PickerTypeTier:
		return &tierCompactionPicker{config: c.config}
	case PickerTypeToBase:
		return &levelCompactionPicker{targetLevel: ctx.BaseLevel, config: c.config, strategy: c.strategy()}
	case PickerTypeIntra:
		return &intraCompactionPicker{config: c.config, strategy: c.strategy()}
	case PickerTypeBottomLevel:
		return &minOverlappingPicker{
			level:          info.SelectLevel,
			targetLevel:    info.TargetLevel,
			maxSelectBytes: c.config.MaxCompactionBytes,
			strategy:       c.strategy(),
		}
	default:
		panic(errors.AssertionFailedf("unknown picker type %d", info.PickerType))
	}
}

// CreateCompactionTask derives the output parameters of an input.
func (c *DynamicLevelSelectorCore) CreateCompactionTask(
	input *CompactionInput, baseLevel int, taskType TaskType,
) *CompactionTask {
	target := int(input.TargetLevel)
	return &CompactionTask{
		Input:                input,
		BaseLevel:            baseLevel,
		CompressionAlgorithm: GetCompressionAlgorithm(c.config, target, baseLevel),
		TargetFileSize:       TargetFileSize(c.config, target, baseLevel),
		TaskType:             taskType,
	}
}

// GetCompressionAlgorithm returns the configured compression of a level. L0
// and the levels above the base level use the first entry; the base level
// uses the second and so on.
func GetCompressionAlgorithm(config *CompactionConfig, level, baseLevel int) string {
	if len(config.CompressionAlgorithm) == 0 {
		return CompressionNameNone
	}
	idx := 0
	if level != 0 && level >= baseLevel {
		idx = level - baseLevel + 1
	}
	idx = min(idx, len(config.CompressionAlgorithm)-1)
	return config.CompressionAlgorithm[idx]
}

// TargetFileSize returns the output file size of a compaction into
// targetLevel. L0 output uses TargetFileSizeBase. The base level uses a
// quarter of it, and the size doubles every two levels below. Compacting
// into a non-empty level above the base level is a contract violation.
func TargetFileSize(config *CompactionConfig, targetLevel, baseLevel int) uint64 {
	if targetLevel == 0 {
		return config.TargetFileSizeBase
	}
	if targetLevel < baseLevel {
		panic(errors.AssertionFailedf("target level L%d is above base level L%d", targetLevel, baseLevel))
	}
	step := (targetLevel - baseLevel) / 2
	return (config.TargetFileSizeBase / 4) << step
}

// DynamicLevelSelector keeps the LSM shape: it compacts the highest scoring
// level whose score exceeds ScoreBase.
type DynamicLevelSelector struct{}

var _ CompactionSelector = (*DynamicLevelSelector)(nil)

// PickCompaction implements CompactionSelector.
func (s *DynamicLevelSelector) PickCompaction(
	taskID base.TaskID,
	group *CompactionGroup,
	levels *manifest.Levels,
	handlers []*LevelHandler,
	stats *LocalSelectorStatistic,
	_ map[base.TableID]TableOption,
) *CompactionTask {
	core := NewDynamicLevelSelectorCore(group.Config)
	ctx := core.GetPriorityLevels(levels, handlers)
	for _, info := range ctx.ScoreLevels {
		if info.Score <= ScoreBase {
			return nil
		}
		picker := core.createPicker(info, ctx)
		var pickerStats LocalPickerStatistic
		input := picker.pickCompaction(levels, handlers, &pickerStats)
		if input == nil {
			stats.recordSkip(info.SelectLevel, info.TargetLevel, pickerStats)
			continue
		}
		input.AddPendingTask(taskID, handlers)
		return core.CreateCompactionTask(input, ctx.BaseLevel, s.TaskType())
	}
	return nil
}

// Name implements CompactionSelector.
func (s *DynamicLevelSelector) Name() string { return "DynamicLevelCompaction" }

// TaskType implements CompactionSelector.
func (s *DynamicLevelSelector) TaskType() TaskType { return TaskTypeDynamic }
