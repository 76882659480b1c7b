// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// minOverlappingPicker compacts a contiguous run of sstables of level into
// targetLevel, choosing the run that rewrites the fewest target bytes per
// selected byte.
type minOverlappingPicker struct {
	level          int
	targetLevel    int
	maxSelectBytes uint64
	strategy       overlap.Strategy
}

var _ compactionPicker = (*minOverlappingPicker)(nil)

// overlapScoreScale keeps precision in the integer ratio of target bytes to
// selected bytes.
const overlapScoreScale = 1000

func (p *minOverlappingPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	selectTables := levels.GetLevel(p.level).TableInfos
	targetTables := levels.GetLevel(p.targetLevel).TableInfos
	if len(selectTables) == 0 {
		return nil
	}

	var (
		found          bool
		bestStart      int
		bestEnd        int
		bestScore      uint64
		bestSelect     uint64
		bestTargetSsts []*manifest.SstableInfo
	)
	for i := range selectTables {
		if handlers[p.level].IsPendingCompact(selectTables[i].SstID) {
			continue
		}
		var selectBytes uint64
		for j := i; j < len(selectTables); j++ {
			if handlers[p.level].IsPendingCompact(selectTables[j].SstID) {
				break
			}
			selectBytes += selectTables[j].FileSize
			if j > i && selectBytes > p.maxSelectBytes {
				break
			}
			targetSsts := p.strategy.CheckBaseLevelOverlap(selectTables[i:j+1], targetTables)
			if anyPending(handlers[p.targetLevel], targetSsts) {
				stats.SkipByPendingFiles++
				break
			}
			targetBytes := manifest.TotalFileSize(targetSsts)
			if j > i && selectBytes+targetBytes > p.maxSelectBytes {
				stats.SkipByWriteAmpLimit++
				break
			}
			score := targetBytes * overlapScoreScale / max(selectBytes, 1)
			if !found || score < bestScore || (score == bestScore && selectBytes > bestSelect) {
				found = true
				bestStart, bestEnd = i, j+1
				bestScore, bestSelect = score, selectBytes
				bestTargetSsts = targetSsts
			}
		}
	}
	if !found {
		return nil
	}
	return newCompactionInput([]manifest.InputLevel{
		{
			LevelIdx:   uint32(p.level),
			LevelType:  manifest.LevelTypeNonoverlapping,
			TableInfos: selectTables[bestStart:bestEnd],
		},
		{
			LevelIdx:   uint32(p.targetLevel),
			LevelType:  manifest.LevelTypeNonoverlapping,
			TableInfos: bestTargetSsts,
		},
	}, uint32(p.targetLevel), 0)
}
