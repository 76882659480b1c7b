// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"time"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// sameLevelInput rewrites ssts of level into the same level. The empty second
// input level marks the task as a same-level rewrite.
func sameLevelInput(level uint32, ssts []*manifest.SstableInfo) *CompactionInput {
	return newCompactionInput([]manifest.InputLevel{
		{LevelIdx: level, LevelType: manifest.LevelTypeNonoverlapping, TableInfos: ssts},
		{LevelIdx: level, LevelType: manifest.LevelTypeNonoverlapping},
	}, level, 0)
}

// TTLPickerState is the resumable scan position of the TTL picker in one
// compaction group. A round scans the bottom level once, left to right;
// each pick continues after the end of the previous one.
type TTLPickerState struct {
	valid bool
	// lastSelectEnd is the key range of the last selected sstable; it is
	// empty until the first selection of the round.
	lastSelectEnd base.KeyRange
	// roundEnd is the key range of the last sstable of the level when the
	// round started.
	roundEnd base.KeyRange
}

func (s *TTLPickerState) init(roundEnd base.KeyRange) {
	s.valid = true
	s.roundEnd = roundEnd.Clone()
	s.lastSelectEnd = base.KeyRangeEndExclusive(nil, []byte{})
}

func (s *TTLPickerState) clear() {
	*s = TTLPickerState{}
}

// Valid returns true while a round is in progress.
func (s *TTLPickerState) Valid() bool {
	return s.valid
}

// roundDone returns true if the last selection reached the end of the round.
func (s *TTLPickerState) roundDone() bool {
	return !s.lastSelectEnd.IsEmpty() && s.lastSelectEnd.CompareRight(s.roundEnd) >= 0
}

// ttlReclaimCompactionPicker rewrites bottom level sstables whose data has
// outlived the retention of every table it contains.
type ttlReclaimCompactionPicker struct {
	maxReclaimBytes uint64
	tableOptions    map[base.TableID]TableOption
	now             time.Time
}

// isExpired returns true if all the sstable's data is past the retention of
// its tables. Tables without a TTL never expire.
func (p *ttlReclaimCompactionPicker) isExpired(sst *manifest.SstableInfo) bool {
	if len(sst.TableIDs) == 0 {
		return false
	}
	current := base.EpochFromTime(p.now)
	for _, id := range sst.TableIDs {
		opt, ok := p.tableOptions[id]
		if !ok || !opt.HasTTL() {
			return false
		}
		expireEpoch := current.SubtractMillis(uint64(opt.RetentionSeconds) * 1000)
		if sst.MaxEpoch > expireEpoch {
			return false
		}
	}
	return true
}

func (p *ttlReclaimCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, state *TTLPickerState,
) *CompactionInput {
	levelIdx := levels.MaxLevel()
	ssts := levels.GetLevel(levelIdx).TableInfos
	if len(ssts) == 0 {
		return nil
	}
	if state.valid && state.roundDone() {
		// Wait for the next call to start a new round.
		state.clear()
		return nil
	}
	if !state.valid {
		state.init(ssts[len(ssts)-1].KeyRange)
	}

	start := 0
	if !state.lastSelectEnd.IsEmpty() {
		for start < len(ssts) && !state.lastSelectEnd.EndsBefore(ssts[start].KeyRange.Left) {
			start++
		}
	}
	var selected []*manifest.SstableInfo
	var bytes uint64
	for _, sst := range ssts[start:] {
		if handlers[levelIdx].IsPendingCompact(sst.SstID) || !p.isExpired(sst) {
			if len(selected) > 0 {
				break
			}
			continue
		}
		if len(selected) > 0 && bytes+sst.FileSize > p.maxReclaimBytes {
			break
		}
		selected = append(selected, sst)
		bytes += sst.FileSize
	}
	if len(selected) == 0 {
		state.clear()
		return nil
	}
	state.lastSelectEnd = selected[len(selected)-1].KeyRange.Clone()
	return sameLevelInput(uint32(levelIdx), selected)
}

// SpaceReclaimPickerState remembers the level where the space reclaim picker
// resumes.
type SpaceReclaimPickerState struct {
	lastLevel int
}

// spaceReclaimCompactionPicker rewrites sstables holding data of dropped
// tables, that is tables that are not members of the group anymore.
type spaceReclaimCompactionPicker struct {
	maxSpaceReclaimBytes uint64
}

// isMember returns true if the table is a member of the group.
func isMember(members []base.TableID, id base.TableID) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}

// droppedTables classifies the tables of an sstable: whether it has any
// data of a dropped table, and whether all of it is.
func droppedTables(members []base.TableID, sst *manifest.SstableInfo) (anyDropped, allDropped bool) {
	allDropped = true
	for _, id := range sst.TableIDs {
		if isMember(members, id) {
			allDropped = false
		} else {
			anyDropped = true
		}
	}
	return anyDropped, allDropped && anyDropped
}

func (p *spaceReclaimCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, state *SpaceReclaimPickerState,
) *CompactionInput {
	maxLevel := levels.MaxLevel()
	if state.lastLevel < 1 || state.lastLevel > maxLevel {
		state.lastLevel = 1
	}
	for n := 0; n < maxLevel; n++ {
		levelIdx := (state.lastLevel-1+n)%maxLevel + 1
		if selected := p.pickLevel(levels, handlers, levelIdx); len(selected) > 0 {
			state.lastLevel = levelIdx%maxLevel + 1
			return sameLevelInput(uint32(levelIdx), selected)
		}
	}
	state.lastLevel = 1
	return nil
}

// pickLevel selects a contiguous run of unclaimed sstables with dropped data.
// The byte budget does not apply while every selected sstable belongs
// entirely to dropped tables, since those are deleted without being read.
func (p *spaceReclaimCompactionPicker) pickLevel(
	levels *manifest.Levels, handlers []*LevelHandler, levelIdx int,
) []*manifest.SstableInfo {
	var selected []*manifest.SstableInfo
	var bytes uint64
	allTrivial := true
	for _, sst := range levels.GetLevel(levelIdx).TableInfos {
		anyDropped, allDropped := droppedTables(levels.MemberTableIDs, sst)
		if !anyDropped || handlers[levelIdx].IsPendingCompact(sst.SstID) {
			if len(selected) > 0 {
				break
			}
			continue
		}
		if len(selected) > 0 && bytes+sst.FileSize > p.maxSpaceReclaimBytes && !(allTrivial && allDropped) {
			break
		}
		selected = append(selected, sst)
		bytes += sst.FileSize
		allTrivial = allTrivial && allDropped
	}
	return selected
}

// TombstonePickerState remembers the level where the tombstone reclaim
// picker resumes.
type TombstonePickerState struct {
	lastLevel int
}

// tombstoneReclaimCompactionPicker rewrites an sstable with a high share of
// stale keys or range tombstones together with the data they shadow in the
// next level.
type tombstoneReclaimCompactionPicker struct {
	ratio    uint32
	strategy overlap.Strategy
}

func (p *tombstoneReclaimCompactionPicker) isCandidate(sst *manifest.SstableInfo) bool {
	if sst.TotalKeyCount == 0 {
		return false
	}
	threshold := sst.TotalKeyCount * uint64(p.ratio)
	return sst.StaleKeyCount*100 >= threshold || sst.RangeTombstoneCount*100 >= threshold
}

func (p *tombstoneReclaimCompactionPicker) pickCompaction(
	levels *manifest.Levels,
	handlers []*LevelHandler,
	state *TombstonePickerState,
	stats *LocalPickerStatistic,
) *CompactionInput {
	maxLevel := levels.MaxLevel()
	if state.lastLevel < 1 || state.lastLevel > maxLevel {
		state.lastLevel = 1
	}
	for levelIdx := state.lastLevel; levelIdx <= maxLevel; levelIdx++ {
		for _, sst := range levels.GetLevel(levelIdx).TableInfos {
			if handlers[levelIdx].IsPendingCompact(sst.SstID) || !p.isCandidate(sst) {
				continue
			}
			if levelIdx == maxLevel {
				state.lastLevel = levelIdx
				return sameLevelInput(uint32(levelIdx), []*manifest.SstableInfo{sst})
			}
			selected := []*manifest.SstableInfo{sst}
			targetSsts := p.strategy.CheckBaseLevelOverlap(selected, levels.GetLevel(levelIdx+1).TableInfos)
			if anyPending(handlers[levelIdx+1], targetSsts) {
				stats.SkipByPendingFiles++
				continue
			}
			state.lastLevel = levelIdx
			return newCompactionInput([]manifest.InputLevel{
				{LevelIdx: uint32(levelIdx), LevelType: manifest.LevelTypeNonoverlapping, TableInfos: selected},
				{LevelIdx: uint32(levelIdx + 1), LevelType: manifest.LevelTypeNonoverlapping, TableInfos: targetSsts},
			}, uint32(levelIdx+1), 0)
		}
	}
	state.lastLevel = 1
	return nil
}
