// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/redact"
)

// LevelType describes whether the sstables of a level may overlap each other.
type LevelType uint8

const (
	LevelTypeUnspecified LevelType = iota
	LevelTypeNonoverlapping
	LevelTypeOverlapping
)

func (t LevelType) String() string {
	switch t {
	case LevelTypeNonoverlapping:
		return "non-overlapping"
	case LevelTypeOverlapping:
		return "overlapping"
	default:
		return "unspecified"
	}
}

// SafeValue implements redact.SafeValue.
func (LevelType) SafeValue() {}

// Level is one sorted run of the LSM: a level below L0, or one L0 sub-level.
type Level struct {
	LevelIdx   uint32
	LevelType  LevelType
	TableInfos []*SstableInfo
	// TotalFileSize is the sum of the sizes of TableInfos.
	TotalFileSize uint64
	// SubLevelID orders L0 sub-levels; it is zero for other levels.
	SubLevelID uint64
}

// MakeLevel constructs a level and computes its total size.
func MakeLevel(levelIdx uint32, levelType LevelType, subLevelID uint64, tables []*SstableInfo) Level {
	return Level{
		LevelIdx:      levelIdx,
		LevelType:     levelType,
		TableInfos:    tables,
		TotalFileSize: TotalFileSize(tables),
		SubLevelID:    subLevelID,
	}
}

// Name returns "L<n>" for levels and "L0.<sub-level-id>" for L0 sub-levels.
func (l *Level) Name() string {
	if l.LevelIdx == 0 {
		return fmt.Sprintf("L0.%d", l.SubLevelID)
	}
	return fmt.Sprintf("L%d", l.LevelIdx)
}

// OverlappingLevel is the L0 stack of sub-levels, oldest first.
type OverlappingLevel struct {
	SubLevels     []Level
	TotalFileSize uint64
}

// FileCount returns the number of sstables across all sub-levels.
func (l *OverlappingLevel) FileCount() int {
	n := 0
	for i := range l.SubLevels {
		n += len(l.SubLevels[i].TableInfos)
	}
	return n
}

// Levels is the layout of one compaction group: L0 and the levels below it.
// Levels[i] holds level i+1.
type Levels struct {
	GroupID base.CompactionGroupID
	L0      OverlappingLevel
	Levels  []Level
	// MemberTableIDs are the ids of the tables that currently exist in the
	// group. Data of any other table belongs to a dropped table.
	MemberTableIDs []base.TableID
}

// NewLevels returns an empty layout with levels 1 through maxLevel.
func NewLevels(groupID base.CompactionGroupID, maxLevel int) *Levels {
	l := &Levels{GroupID: groupID, Levels: make([]Level, maxLevel)}
	for i := range l.Levels {
		l.Levels[i] = MakeLevel(uint32(i+1), LevelTypeNonoverlapping, 0, nil)
	}
	return l
}

// MaxLevel returns the index of the bottommost level.
func (l *Levels) MaxLevel() int {
	return len(l.Levels)
}

// GetLevel returns level idx, which must be >= 1.
func (l *Levels) GetLevel(idx int) *Level {
	if idx < 1 || idx > len(l.Levels) {
		panic(errors.AssertionFailedf("level %d out of range [1, %d]", idx, len(l.Levels)))
	}
	return &l.Levels[idx-1]
}

// AddSubLevel appends a sub-level at the young end of L0.
func (l *Levels) AddSubLevel(subLevelID uint64, levelType LevelType, tables []*SstableInfo) {
	sl := MakeLevel(0, levelType, subLevelID, tables)
	l.L0.SubLevels = append(l.L0.SubLevels, sl)
	l.L0.TotalFileSize += sl.TotalFileSize
}

// SetLevel replaces the tables of level idx (>= 1).
func (l *Levels) SetLevel(idx int, tables []*SstableInfo) {
	*l.GetLevel(idx) = MakeLevel(uint32(idx), LevelTypeNonoverlapping, 0, tables)
}

// FileCount returns the number of sstables in the layout.
func (l *Levels) FileCount() int {
	n := l.L0.FileCount()
	for i := range l.Levels {
		n += len(l.Levels[i].TableInfos)
	}
	return n
}

// FindSstable returns the sstable with the given id and the level it lives in
// (0 for any L0 sub-level).
func (l *Levels) FindSstable(id base.SstID) (*SstableInfo, int, bool) {
	for i := range l.L0.SubLevels {
		for _, t := range l.L0.SubLevels[i].TableInfos {
			if t.SstID == id {
				return t, 0, true
			}
		}
	}
	for i := range l.Levels {
		for _, t := range l.Levels[i].TableInfos {
			if t.SstID == id {
				return t, int(l.Levels[i].LevelIdx), true
			}
		}
	}
	return nil, 0, false
}

// CheckInvariants verifies the structural properties the planner relies on:
// unique sstable ids, increasing sub-level ids, consistent level indexes and
// sizes, and sorted disjoint sstables in every non-overlapping run.
func (l *Levels) CheckInvariants() error {
	seen := make(map[base.SstID]struct{})
	check := func(lvl *Level) error {
		var size uint64
		for _, t := range lvl.TableInfos {
			if err := t.Validate(); err != nil {
				return errors.Wrapf(err, "%s", lvl.Name())
			}
			if _, ok := seen[t.SstID]; ok {
				return errors.Newf("%s: duplicate sstable %d", lvl.Name(), t.SstID)
			}
			seen[t.SstID] = struct{}{}
			size += t.FileSize
		}
		if size != lvl.TotalFileSize {
			return errors.Newf("%s: total file size %d, expected %d", lvl.Name(), lvl.TotalFileSize, size)
		}
		if lvl.LevelType == LevelTypeNonoverlapping && !CanConcat(lvl.TableInfos) {
			return errors.Newf("%s: non-overlapping level has overlapping or unsorted sstables", lvl.Name())
		}
		return nil
	}
	var l0Size uint64
	for i := range l.L0.SubLevels {
		sl := &l.L0.SubLevels[i]
		if sl.LevelIdx != 0 {
			return errors.Newf("sub-level %d has level index %d", sl.SubLevelID, sl.LevelIdx)
		}
		if i > 0 && l.L0.SubLevels[i-1].SubLevelID >= sl.SubLevelID {
			return errors.Newf("sub-level ids not increasing: %d then %d",
				l.L0.SubLevels[i-1].SubLevelID, sl.SubLevelID)
		}
		if err := check(sl); err != nil {
			return err
		}
		l0Size += sl.TotalFileSize
	}
	if l0Size != l.L0.TotalFileSize {
		return errors.Newf("L0: total file size %d, expected %d", l.L0.TotalFileSize, l0Size)
	}
	for i := range l.Levels {
		lvl := &l.Levels[i]
		if int(lvl.LevelIdx) != i+1 {
			return errors.Newf("level at position %d has index %d", i+1, lvl.LevelIdx)
		}
		if lvl.LevelType != LevelTypeNonoverlapping {
			return errors.Newf("%s must be non-overlapping", lvl.Name())
		}
		if err := check(lvl); err != nil {
			return err
		}
	}
	return nil
}

// String returns the layout in the format accepted by ParseLevels.
func (l *Levels) String() string {
	var b strings.Builder
	writeLevel := func(lvl *Level) {
		b.WriteString(lvl.Name())
		if lvl.LevelIdx == 0 && lvl.LevelType == LevelTypeOverlapping {
			b.WriteString(" overlapping")
		}
		b.WriteString(":\n")
		for _, t := range lvl.TableInfos {
			fmt.Fprintf(&b, "  %s\n", t.DebugString(true))
		}
	}
	for i := range l.L0.SubLevels {
		writeLevel(&l.L0.SubLevels[i])
	}
	for i := range l.Levels {
		if len(l.Levels[i].TableInfos) > 0 {
			writeLevel(&l.Levels[i])
		}
	}
	return b.String()
}

// InputLevel is the subset of one run of sstables that participates in a
// compaction.
type InputLevel struct {
	LevelIdx   uint32
	LevelType  LevelType
	TableInfos []*SstableInfo
}

// TotalFileSize returns the sum of the sizes of the input sstables.
func (l *InputLevel) TotalFileSize() uint64 {
	return TotalFileSize(l.TableInfos)
}

// SafeFormat implements redact.SafeFormatter.
func (l InputLevel) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("L%d %s [", l.LevelIdx, l.LevelType)
	for i, t := range l.TableInfos {
		if i > 0 {
			w.SafeString(" ")
		}
		w.Print(t.SstID)
	}
	w.SafeString("]")
}

func (l InputLevel) String() string {
	return redact.StringWithoutMarkers(l)
}
