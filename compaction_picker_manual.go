// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"slices"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// ManualCompactionOption describes an operator requested compaction. The
// filters are combined; empty filters match everything.
type ManualCompactionOption struct {
	// Level is the level to compact from.
	Level int
	// SstIDs restricts the compaction to the given sstables.
	SstIDs []base.SstID
	// KeyRange restricts the compaction to sstables overlapping the range.
	// The zero value covers every key.
	KeyRange base.KeyRange
	// InternalTableIDs restricts the compaction to sstables holding data of
	// one of the tables.
	InternalTableIDs []base.TableID
}

func (o *ManualCompactionOption) matches(sst *manifest.SstableInfo) bool {
	if len(o.SstIDs) > 0 && !slices.Contains(o.SstIDs, sst.SstID) {
		return false
	}
	if !o.KeyRange.Overlaps(sst.KeyRange) {
		return false
	}
	if len(o.InternalTableIDs) > 0 &&
		!slices.ContainsFunc(o.InternalTableIDs, sst.ContainsTable) {
		return false
	}
	return true
}

// manualCompactionPicker compacts the sstables matching an option. From L0
// it moves the matching data and everything it depends on to the base level;
// from other levels it compacts the span of matching sstables into the next
// level, or rewrites it in place at the bottom level.
type manualCompactionPicker struct {
	option    ManualCompactionOption
	baseLevel int
	strategy  overlap.Strategy
}

var _ compactionPicker = (*manualCompactionPicker)(nil)

func (p *manualCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	if p.option.Level == 0 {
		return p.pickL0(levels, handlers, stats)
	}
	if p.option.Level > levels.MaxLevel() {
		return nil
	}
	ssts := levels.GetLevel(p.option.Level).TableInfos
	first, last := -1, -1
	for i, sst := range ssts {
		if p.option.matches(sst) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	selected := ssts[first : last+1]
	if anyPending(handlers[p.option.Level], selected) {
		stats.SkipByPendingFiles++
		return nil
	}
	if p.option.Level == levels.MaxLevel() {
		return sameLevelInput(uint32(p.option.Level), selected)
	}
	targetLevel := p.option.Level + 1
	targetSsts := p.strategy.CheckBaseLevelOverlap(selected, levels.GetLevel(targetLevel).TableInfos)
	if anyPending(handlers[targetLevel], targetSsts) {
		stats.SkipByPendingFiles++
		return nil
	}
	return newCompactionInput([]manifest.InputLevel{
		{LevelIdx: uint32(p.option.Level), LevelType: manifest.LevelTypeNonoverlapping, TableInfos: selected},
		{LevelIdx: uint32(targetLevel), LevelType: manifest.LevelTypeNonoverlapping, TableInfos: targetSsts},
	}, uint32(targetLevel), 0)
}

func (p *manualCompactionPicker) pickL0(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	var matched []*manifest.SstableInfo
	for i := range levels.L0.SubLevels {
		for _, sst := range levels.L0.SubLevels[i].TableInfos {
			if p.option.matches(sst) {
				matched = append(matched, sst)
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sel := selectL0Range(p.strategy, levels.L0.SubLevels, 0, manifest.KeyRangeOf(matched),
		handlers[0], l0Limits{allowOverlapping: true}, stats)
	if sel == nil {
		return nil
	}
	// Every matched sstable must be part of the selection; a pending older
	// sstable may have cut it short.
	picked := sel.tables()
	for _, m := range matched {
		if !slices.Contains(picked, m) {
			stats.SkipByPendingFiles++
			return nil
		}
	}
	lp := levelCompactionPicker{targetLevel: p.baseLevel, strategy: p.strategy}
	c := lp.withTarget(sel, levels.GetLevel(p.baseLevel), handlers, stats)
	if c == nil {
		return nil
	}
	return lp.makeInput(c)
}
