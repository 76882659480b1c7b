// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/invariants"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
	"github.com/cockroachdb/redact"
)

// CompactionInput is a candidate compaction produced by a picker: the
// sstables to merge and where the output goes. Every input sstable is
// unclaimed when the input is returned by a picker.
type CompactionInput struct {
	// InputLevels lists the input runs. L0 sub-levels come first, newest
	// first; the run of the target level, if any, comes last.
	InputLevels []manifest.InputLevel
	TargetLevel uint32
	// TargetSubLevelID is the L0 sub-level the output replaces when
	// TargetLevel is 0.
	TargetSubLevelID uint64
	// SelectInputSize is the size of the inputs outside the target level.
	SelectInputSize uint64
	// TargetInputSize is the size of the inputs in the target level.
	TargetInputSize uint64
	TotalFileCount  uint64
}

// newCompactionInput computes the size fields of the input. The last input
// level is counted towards TargetInputSize when it lives in the target level
// and the input has more than one level.
func newCompactionInput(
	inputLevels []manifest.InputLevel, targetLevel uint32, targetSubLevelID uint64,
) *CompactionInput {
	c := &CompactionInput{
		InputLevels:      inputLevels,
		TargetLevel:      targetLevel,
		TargetSubLevelID: targetSubLevelID,
	}
	for i := range inputLevels {
		l := &inputLevels[i]
		size := l.TotalFileSize()
		if i == len(inputLevels)-1 && i > 0 && l.LevelIdx == targetLevel && targetLevel != 0 {
			c.TargetInputSize += size
		} else {
			c.SelectInputSize += size
		}
		c.TotalFileCount += uint64(len(l.TableInfos))
	}
	return c
}

// AddPendingTask claims every input sstable for the task in the handler of
// the level it lives in.
func (c *CompactionInput) AddPendingTask(taskID base.TaskID, handlers []*LevelHandler) {
	if invariants.Enabled {
		if err := c.checkUnclaimed(handlers); err != nil {
			panic(err)
		}
	}
	for i := range c.InputLevels {
		l := &c.InputLevels[i]
		handlers[l.LevelIdx].AddPendingTask(taskID, c.TargetLevel, l.TableInfos)
	}
}

func (c *CompactionInput) checkUnclaimed(handlers []*LevelHandler) error {
	for i := range c.InputLevels {
		l := &c.InputLevels[i]
		if int(l.LevelIdx) >= len(handlers) {
			return errors.AssertionFailedf("input level L%d has no handler", l.LevelIdx)
		}
		for _, t := range l.TableInfos {
			if task, ok := handlers[l.LevelIdx].PendingTaskIDBySst(t.SstID); ok {
				return errors.AssertionFailedf("input sstable %d is pending in task %d", t.SstID, task)
			}
		}
	}
	return nil
}

// SafeFormat implements redact.SafeFormatter.
func (c *CompactionInput) SafeFormat(w redact.SafePrinter, _ rune) {
	for i := range c.InputLevels {
		if i > 0 {
			w.SafeString(" + ")
		}
		w.Print(c.InputLevels[i])
	}
	w.Printf(" -> L%d", c.TargetLevel)
	if c.TargetLevel == 0 {
		w.Printf(".%d", c.TargetSubLevelID)
	}
}

func (c *CompactionInput) String() string {
	return redact.StringWithoutMarkers(c)
}

// LocalPickerStatistic counts the reasons a picker gave up on candidates.
type LocalPickerStatistic struct {
	SkipByWriteAmpLimit uint64
	SkipByCountLimit    uint64
	SkipByPendingFiles  uint64
	SkipByOverlapping   uint64
}

// Empty returns true if no skip was recorded.
func (s LocalPickerStatistic) Empty() bool {
	return s == LocalPickerStatistic{}
}

// compactionPicker produces a CompactionInput from a level layout, or nil
// when there is nothing to do. Pickers never claim sstables themselves.
type compactionPicker interface {
	pickCompaction(
		levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
	) *CompactionInput
}

// isConcatRun returns true if the sstables of the level form a sorted run,
// which is always the case for non-overlapping levels.
func isConcatRun(l *manifest.Level) bool {
	return l.LevelType == manifest.LevelTypeNonoverlapping || manifest.CanConcat(l.TableInfos)
}

// l0Limits bounds an L0 range selection. Zero means unbounded.
type l0Limits struct {
	maxBytes     uint64
	maxFileCount uint64
	// allowOverlapping lets the selection extend into overlapping
	// sub-levels.
	allowOverlapping bool
}

// l0Selection is the result of selectL0Range.
type l0Selection struct {
	// subLevels holds, oldest first, the picked sstables of each sub-level
	// of the selection. Sub-levels without picked sstables are omitted.
	subLevels []manifest.InputLevel
	// subLevelIDs parallels subLevels.
	subLevelIDs []uint64
	keyRange    base.KeyRange
	bytes       uint64
	fileCount   uint64
}

// inputLevelsNewestFirst returns the picked sub-levels in the order used by
// CompactionInput.
func (s *l0Selection) inputLevelsNewestFirst() []manifest.InputLevel {
	res := slices.Clone(s.subLevels)
	slices.Reverse(res)
	return res
}

func (s *l0Selection) tables() []*manifest.SstableInfo {
	var res []*manifest.SstableInfo
	for i := range s.subLevels {
		res = append(res, s.subLevels[i].TableInfos...)
	}
	return res
}

// selectL0Range selects sstables from the L0 sub-levels starting at start,
// walking towards newer sub-levels. In every sub-level it picks the sstables
// that intersect a key range seeded by seed, and grows the range until it
// covers everything picked. As a result, whenever a picked sstable overlaps
// an sstable of an older sub-level of the selection, that sstable is picked
// too, and the selection can be moved below the rest of L0.
//
// The walk stops before a sub-level that would exceed the limits, that is
// overlapping (unless allowed), or whose intersecting sstables include a
// pending one. The first sub-level is never cut for exceeding the limits;
// nil is returned if it is blocked otherwise.
func selectL0Range(
	strategy overlap.Strategy,
	subLevels []manifest.Level,
	start int,
	seed base.KeyRange,
	handler *LevelHandler,
	limits l0Limits,
	stats *LocalPickerStatistic,
) *l0Selection {
	r := seed
	for {
		sel := &l0Selection{keyRange: base.KeyRangeEndExclusive(nil, []byte{})}
		info := strategy.NewInfo()
		info.Update(r)
		for i := start; i < len(subLevels); i++ {
			sl := &subLevels[i]
			if !limits.allowOverlapping && !isConcatRun(sl) {
				break
			}
			var picked []*manifest.SstableInfo
			var bytes uint64
			pending := false
			for _, t := range sl.TableInfos {
				if !info.CheckOverlap(t) {
					continue
				}
				if handler.IsPendingCompact(t.SstID) {
					pending = true
					break
				}
				picked = append(picked, t)
				bytes += t.FileSize
			}
			if pending {
				stats.SkipByPendingFiles++
				if i == start {
					return nil
				}
				break
			}
			if i > start {
				if (limits.maxBytes > 0 && sel.bytes+bytes > limits.maxBytes) ||
					(limits.maxFileCount > 0 && sel.fileCount+uint64(len(picked)) > limits.maxFileCount) {
					stats.SkipByCountLimit++
					break
				}
			}
			if len(picked) == 0 {
				continue
			}
			sel.subLevels = append(sel.subLevels, manifest.InputLevel{
				LevelIdx:   0,
				LevelType:  sl.LevelType,
				TableInfos: picked,
			})
			sel.subLevelIDs = append(sel.subLevelIDs, sl.SubLevelID)
			sel.bytes += bytes
			sel.fileCount += uint64(len(picked))
			sel.keyRange = sel.keyRange.Extend(manifest.KeyRangeOf(picked))
		}
		if len(sel.subLevels) == 0 {
			return nil
		}
		grown := r.Extend(sel.keyRange)
		if keyRangeEqual(grown, r) {
			return sel
		}
		r = grown
	}
}

func keyRangeEqual(a, b base.KeyRange) bool {
	return string(a.Left) == string(b.Left) && a.CompareRight(b) == 0
}

// anyPending returns true if one of the sstables is claimed.
func anyPending(handler *LevelHandler, ssts []*manifest.SstableInfo) bool {
	for _, t := range ssts {
		if handler.IsPendingCompact(t.SstID) {
			return true
		}
	}
	return false
}
