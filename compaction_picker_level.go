// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"math/bits"

	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// levelCompactionPicker moves data from the oldest L0 sub-levels into the
// base level, merging it with the overlapping base level sstables.
type levelCompactionPicker struct {
	targetLevel int
	config      *CompactionConfig
	strategy    overlap.Strategy
}

var _ compactionPicker = (*levelCompactionPicker)(nil)

// l0ToBaseCandidate is one way of moving L0 data to the base level.
type l0ToBaseCandidate struct {
	sel         *l0Selection
	targetSsts  []*manifest.SstableInfo
	targetBytes uint64
}

// betterThan prefers the lower write amplification (target bytes per L0
// byte), then the larger L0 selection.
func (c *l0ToBaseCandidate) betterThan(o *l0ToBaseCandidate) bool {
	// Compare c.targetBytes/c.sel.bytes with o.targetBytes/o.sel.bytes without
	// dividing. The products are 128-bit.
	lhsHi, lhsLo := bits.Mul64(c.targetBytes, max(o.sel.bytes, 1))
	rhsHi, rhsLo := bits.Mul64(o.targetBytes, max(c.sel.bytes, 1))
	if lhsHi != rhsHi {
		return lhsHi < rhsHi
	}
	if lhsLo != rhsLo {
		return lhsLo < rhsLo
	}
	return c.sel.bytes > o.sel.bytes
}

func (p *levelCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	subLevels := levels.L0.SubLevels
	if len(subLevels) == 0 {
		return nil
	}
	if !isConcatRun(&subLevels[0]) {
		stats.SkipByOverlapping++
		return nil
	}
	// A running L0 -> base compaction takes the oldest L0 data; another one
	// would have to wait for it anyway.
	if handlers[0].PendingOutputFileSize(uint32(p.targetLevel)) > 0 {
		stats.SkipByPendingFiles++
		return nil
	}
	best := p.pickCandidate(subLevels, levels.GetLevel(p.targetLevel), handlers, l0Limits{
		maxBytes:     p.config.MaxCompactionBytes,
		maxFileCount: p.config.Level0MaxCompactFileNumber,
	}, stats)
	if best == nil {
		return nil
	}
	return p.makeInput(best)
}

// pickCandidate tries every unclaimed sstable of the oldest sub-level as the
// seed of an L0 range selection and returns the best candidate.
func (p *levelCompactionPicker) pickCandidate(
	subLevels []manifest.Level,
	target *manifest.Level,
	handlers []*LevelHandler,
	limits l0Limits,
	stats *LocalPickerStatistic,
) *l0ToBaseCandidate {
	var best *l0ToBaseCandidate
	for _, seed := range subLevels[0].TableInfos {
		if handlers[0].IsPendingCompact(seed.SstID) {
			continue
		}
		sel := selectL0Range(p.strategy, subLevels, 0, seed.KeyRange, handlers[0], limits, stats)
		if sel == nil {
			continue
		}
		c := p.withTarget(sel, target, handlers, stats)
		if c != nil && (best == nil || c.betterThan(best)) {
			best = c
		}
	}
	return best
}

// withTarget completes an L0 selection with the overlapping base level
// sstables. It returns nil if any of them is claimed.
func (p *levelCompactionPicker) withTarget(
	sel *l0Selection, target *manifest.Level, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *l0ToBaseCandidate {
	targetSsts := p.strategy.CheckBaseLevelOverlap(sel.tables(), target.TableInfos)
	if anyPending(handlers[p.targetLevel], targetSsts) {
		stats.SkipByPendingFiles++
		return nil
	}
	return &l0ToBaseCandidate{
		sel:         sel,
		targetSsts:  targetSsts,
		targetBytes: manifest.TotalFileSize(targetSsts),
	}
}

func (p *levelCompactionPicker) makeInput(c *l0ToBaseCandidate) *CompactionInput {
	inputLevels := append(c.sel.inputLevelsNewestFirst(), manifest.InputLevel{
		LevelIdx:   uint32(p.targetLevel),
		LevelType:  manifest.LevelTypeNonoverlapping,
		TableInfos: c.targetSsts,
	})
	return newCompactionInput(inputLevels, uint32(p.targetLevel), 0)
}
