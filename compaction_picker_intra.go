// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// intraCompactionPicker merges sstables of several non-overlapping L0
// sub-levels into one sub-level, reducing the depth of L0 when the base level
// is busy or too large to merge into.
type intraCompactionPicker struct {
	config   *CompactionConfig
	strategy overlap.Strategy
}

var _ compactionPicker = (*intraCompactionPicker)(nil)

func (p *intraCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	subLevels := levels.L0.SubLevels
	minLevels := int(p.config.Level0SubLevelCompactLevelCount)
	limits := l0Limits{
		maxBytes:     p.config.SubLevelMaxCompactionBytes,
		maxFileCount: p.config.Level0MaxCompactFileNumber,
	}
	for start := range subLevels {
		sl := &subLevels[start]
		if !isConcatRun(sl) || handlers[0].IsLevelAllPendingCompact(sl) {
			continue
		}
		if len(subLevels)-start < minLevels {
			break
		}
		var best *l0Selection
		for _, seed := range sl.TableInfos {
			if handlers[0].IsPendingCompact(seed.SstID) {
				continue
			}
			sel := selectL0Range(p.strategy, subLevels, start, seed.KeyRange, handlers[0], limits, stats)
			if sel == nil {
				continue
			}
			if len(sel.subLevels) < minLevels {
				stats.SkipByCountLimit++
				continue
			}
			if best == nil || len(sel.subLevels) > len(best.subLevels) ||
				(len(sel.subLevels) == len(best.subLevels) && sel.bytes < best.bytes) {
				best = sel
			}
		}
		if best != nil {
			// The output replaces the oldest sub-level of the selection.
			return newCompactionInput(best.inputLevelsNewestFirst(), 0, best.subLevelIDs[0])
		}
	}
	return nil
}
