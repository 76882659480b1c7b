// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/internal/manifest"

// tierCompactionPicker merges a contiguous run of overlapping L0 sub-levels
// into a single non-overlapping sub-level. Sub-levels are taken whole, so the
// output can replace the oldest of them without reordering any key.
type tierCompactionPicker struct {
	config *CompactionConfig
	// relaxed lifts the file count trigger; the emergency picker uses it to
	// drain a deep L0.
	relaxed bool
}

var _ compactionPicker = (*tierCompactionPicker)(nil)

func (p *tierCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	subLevels := levels.L0.SubLevels
	for i := 0; i < len(subLevels); i++ {
		if !p.isCandidate(&subLevels[i], handlers[0]) {
			continue
		}
		var bytes, fileCount uint64
		j := i
		for ; j < len(subLevels); j++ {
			sl := &subLevels[j]
			if !p.isCandidate(sl, handlers[0]) {
				break
			}
			if j > i {
				if bytes+sl.TotalFileSize > p.config.SubLevelMaxCompactionBytes ||
					fileCount+uint64(len(sl.TableInfos)) > p.config.Level0MaxCompactFileNumber ||
					uint32(j-i) >= p.config.Level0OverlappingSubLevelCompactLevelCount {
					break
				}
			}
			bytes += sl.TotalFileSize
			fileCount += uint64(len(sl.TableInfos))
		}
		levelCount := j - i
		if !p.shouldCompact(fileCount, bytes, levelCount) {
			stats.SkipByCountLimit++
			i = j - 1
			continue
		}
		inputLevels := make([]manifest.InputLevel, 0, levelCount)
		for k := j - 1; k >= i; k-- {
			inputLevels = append(inputLevels, manifest.InputLevel{
				LevelIdx:   0,
				LevelType:  subLevels[k].LevelType,
				TableInfos: subLevels[k].TableInfos,
			})
		}
		return newCompactionInput(inputLevels, 0, subLevels[i].SubLevelID)
	}
	return nil
}

func (p *tierCompactionPicker) isCandidate(sl *manifest.Level, handler *LevelHandler) bool {
	return sl.LevelType == manifest.LevelTypeOverlapping &&
		len(sl.TableInfos) > 0 &&
		!handler.IsLevelPendingCompact(sl)
}

func (p *tierCompactionPicker) shouldCompact(fileCount, bytes uint64, levelCount int) bool {
	if fileCount < 2 {
		return false
	}
	if p.relaxed {
		return true
	}
	return fileCount >= p.config.Level0TierCompactFileNumber ||
		bytes >= p.config.SubLevelMaxCompactionBytes ||
		uint32(levelCount) >= p.config.Level0OverlappingSubLevelCompactLevelCount
}
