// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
	"github.com/stretchr/testify/require"
)

// testCompactionConfig returns a config with small sizes that keep the test
// layouts readable.
func testCompactionConfig(maxLevel int) *CompactionConfig {
	cfg := &CompactionConfig{
		MaxBytesForLevelBase:                       100,
		MaxBytesForLevelMultiplier:                 10,
		MaxLevel:                                   maxLevel,
		MaxCompactionBytes:                         1000,
		SubLevelMaxCompactionBytes:                 100,
		Level0TierCompactFileNumber:                4,
		Level0SubLevelCompactLevelCount:            3,
		Level0OverlappingSubLevelCompactLevelCount: 4,
		Level0MaxCompactFileNumber:                 20,
		Level0StopWriteThresholdSubLevelNumber:     10,
		TargetFileSizeBase:                         64,
		MaxSpaceReclaimBytes:                       100,
		TombstoneReclaimRatio:                      40,
		EnableEmergencyPicker:                      true,
	}
	return cfg.EnsureDefaults()
}

// parseDefine parses the layout of a "define" command. The max-level argument
// sets the number of levels (default 4); every other argument overrides a
// config option, e.g. level0_tier_compact_file_number=2.
func parseDefine(
	t *testing.T, td *datadriven.TestData,
) (*manifest.Levels, *CompactionConfig, error) {
	maxLevel := 4
	var overrides strings.Builder
	overrides.WriteString("[Compaction]\n")
	for _, arg := range td.CmdArgs {
		if arg.Key == "max-level" {
			var err error
			maxLevel, err = strconv.Atoi(arg.Vals[0])
			require.NoError(t, err)
			continue
		}
		fmt.Fprintf(&overrides, "%s=%s\n", arg.Key, strings.Join(arg.Vals, ","))
	}
	cfg := testCompactionConfig(maxLevel)
	if err := cfg.Parse(overrides.String()); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	levels, err := manifest.ParseLevels(1, maxLevel, td.Input)
	if err != nil {
		return nil, nil, err
	}
	return levels, cfg, nil
}

func formatPickerStats(s LocalPickerStatistic) string {
	var parts []string
	if s.SkipByWriteAmpLimit > 0 {
		parts = append(parts, fmt.Sprintf("write-amp=%d", s.SkipByWriteAmpLimit))
	}
	if s.SkipByCountLimit > 0 {
		parts = append(parts, fmt.Sprintf("count=%d", s.SkipByCountLimit))
	}
	if s.SkipByPendingFiles > 0 {
		parts = append(parts, fmt.Sprintf("pending-files=%d", s.SkipByPendingFiles))
	}
	if s.SkipByOverlapping > 0 {
		parts = append(parts, fmt.Sprintf("overlapping=%d", s.SkipByOverlapping))
	}
	return strings.Join(parts, " ")
}

func formatCompactionInput(input *CompactionInput, stats LocalPickerStatistic) string {
	var b strings.Builder
	if input == nil {
		b.WriteString("no compaction\n")
	} else {
		fmt.Fprintf(&b, "%s\n", input)
		fmt.Fprintf(&b, "select=%d target=%d files=%d\n",
			input.SelectInputSize, input.TargetInputSize, input.TotalFileCount)
	}
	if s := formatPickerStats(stats); s != "" {
		fmt.Fprintf(&b, "skip: %s\n", s)
	}
	return b.String()
}

// scanSstIDs parses an argument holding one or more sstable ids.
func scanSstIDs(t *testing.T, td *datadriven.TestData, key string) []base.SstID {
	for _, arg := range td.CmdArgs {
		if arg.Key != key {
			continue
		}
		var ids []base.SstID
		for _, v := range arg.Vals {
			id, err := strconv.ParseUint(v, 10, 64)
			require.NoError(t, err)
			ids = append(ids, base.SstID(id))
		}
		return ids
	}
	td.Fatalf(t, "missing argument %q", key)
	return nil
}

func TestCompactionPickers(t *testing.T) {
	var (
		levels     *manifest.Levels
		cfg        *CompactionConfig
		status     *CompactStatus
		nextTaskID base.TaskID
		spaceState SpaceReclaimPickerState
		tombState  TombstonePickerState
	)
	strategy := overlap.NewStrategy(overlap.ModeRange)

	datadriven.RunTest(t, "testdata/compaction_picker", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "define":
			var err error
			levels, cfg, err = parseDefine(t, td)
			if err != nil {
				return err.Error()
			}
			status = NewCompactStatus(1, levels.MaxLevel())
			nextTaskID = 100
			spaceState = SpaceReclaimPickerState{}
			tombState = TombstonePickerState{}
			return levels.String()

		case "claim":
			// claim task=<id> target=<level> ssts=(<id>, ...)
			var taskID, target int
			td.ScanArgs(t, "task", &taskID)
			td.ScanArgs(t, "target", &target)
			for _, id := range scanSstIDs(t, td, "ssts") {
				sst, level, ok := levels.FindSstable(id)
				require.Truef(t, ok, "sstable %d not found", id)
				status.LevelHandlers[level].AddPendingTask(
					base.TaskID(taskID), uint32(target), []*manifest.SstableInfo{sst})
			}
			return status.String()

		case "pick":
			var picker compactionPicker
			var input *CompactionInput
			var stats LocalPickerStatistic
			switch kind := td.CmdArgs[0].Key; kind {
			case "tier":
				picker = &tierCompactionPicker{config: cfg}
			case "to-base":
				var target int
				td.ScanArgs(t, "target", &target)
				picker = &levelCompactionPicker{targetLevel: target, config: cfg, strategy: strategy}
			case "intra":
				picker = &intraCompactionPicker{config: cfg, strategy: strategy}
			case "min-overlap":
				var level, target int
				td.ScanArgs(t, "level", &level)
				td.ScanArgs(t, "target", &target)
				picker = &minOverlappingPicker{
					level:          level,
					targetLevel:    target,
					maxSelectBytes: cfg.MaxCompactionBytes,
					strategy:       strategy,
				}
			case "emergency":
				var target int
				td.ScanArgs(t, "target", &target)
				picker = &emergencyCompactionPicker{targetLevel: target, config: cfg, strategy: strategy}
			case "manual":
				var option ManualCompactionOption
				var baseLevel int
				td.ScanArgs(t, "level", &option.Level)
				td.MaybeScanArgs(t, "base", &baseLevel)
				if td.HasArg("ssts") {
					option.SstIDs = scanSstIDs(t, td, "ssts")
				}
				if td.HasArg("start") {
					var start, end string
					td.ScanArgs(t, "start", &start)
					td.ScanArgs(t, "end", &end)
					option.KeyRange = base.KeyRangeInclusive([]byte(start), []byte(end))
				}
				picker = &manualCompactionPicker{option: option, baseLevel: baseLevel, strategy: strategy}
			case "space-reclaim":
				p := spaceReclaimCompactionPicker{maxSpaceReclaimBytes: cfg.MaxSpaceReclaimBytes}
				input = p.pickCompaction(levels, status.LevelHandlers, &spaceState)
			case "tombstone":
				p := tombstoneReclaimCompactionPicker{ratio: cfg.TombstoneReclaimRatio, strategy: strategy}
				input = p.pickCompaction(levels, status.LevelHandlers, &tombState, &stats)
			default:
				td.Fatalf(t, "unknown picker %q", kind)
			}
			if picker != nil {
				input = picker.pickCompaction(levels, status.LevelHandlers, &stats)
			}
			if input != nil && td.HasArg("claim") {
				input.AddPendingTask(nextTaskID, status.LevelHandlers)
				nextTaskID++
			}
			return formatCompactionInput(input, stats)

		case "status":
			return status.String()

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestSelectL0RangeIncludesOlderOverlaps(t *testing.T) {
	// The seed picks 1 and 3. The range then grows to c, which pulls in 4
	// from the middle sub-level; 2 never overlaps the selection.
	levels, err := manifest.ParseLevels(1, 4, `
L0.1:
  1:[a-c]
  2:[x-z]
L0.2:
  4:[c-e]
L0.3:
  3:[a-b]
`)
	require.NoError(t, err)
	h := NewLevelHandler(0)
	var stats LocalPickerStatistic
	sel := selectL0Range(overlap.NewStrategy(overlap.ModeRange), levels.L0.SubLevels, 0,
		base.KeyRangeInclusive([]byte("a"), []byte("b")), h, l0Limits{}, &stats)
	require.NotNil(t, sel)
	require.Equal(t, []uint64{1, 2, 3}, sel.subLevelIDs)
	require.Equal(t, "[a, e]", sel.keyRange.String())
	var ids []base.SstID
	for _, sst := range sel.tables() {
		ids = append(ids, sst.SstID)
	}
	require.Equal(t, []base.SstID{1, 4, 3}, ids)
	require.True(t, stats.Empty())

	// A claimed sstable in the first sub-level blocks the selection.
	h.AddPendingTask(7, 1, levels.L0.SubLevels[0].TableInfos[:1])
	sel = selectL0Range(overlap.NewStrategy(overlap.ModeRange), levels.L0.SubLevels, 0,
		base.KeyRangeInclusive([]byte("a"), []byte("b")), h, l0Limits{}, &stats)
	require.Nil(t, sel)
	require.Equal(t, uint64(1), stats.SkipByPendingFiles)
}

func TestL0ToBaseCandidateOrder(t *testing.T) {
	candidate := func(l0Bytes, targetBytes uint64) *l0ToBaseCandidate {
		return &l0ToBaseCandidate{sel: &l0Selection{bytes: l0Bytes}, targetBytes: targetBytes}
	}
	testCases := []struct {
		name   string
		a, b   *l0ToBaseCandidate
		better bool
	}{
		{"lower-ratio", candidate(100, 150), candidate(10, 30), true},
		{"higher-ratio", candidate(10, 30), candidate(100, 150), false},
		{"same-ratio-larger-l0", candidate(200, 100), candidate(100, 50), true},
		{"same-ratio-smaller-l0", candidate(100, 50), candidate(200, 100), false},
		// The cross products exceed 64 bits.
		{"large-lower-ratio", candidate(8<<30, 12<<30), candidate(1<<30, 3<<30), true},
		{"large-higher-ratio", candidate(1<<30, 3<<30), candidate(8<<30, 12<<30), false},
		{"empty-target", candidate(1<<40, 0), candidate(1, 1<<62), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.better, tc.a.betterThan(tc.b))
		})
	}
}

func TestCompactionInputSizes(t *testing.T) {
	a, err := manifest.ParseSstableInfoDebug("1:[a-b] size:10")
	require.NoError(t, err)
	b, err := manifest.ParseSstableInfoDebug("2:[a-c] size:30")
	require.NoError(t, err)

	input := newCompactionInput([]manifest.InputLevel{
		{LevelIdx: 1, LevelType: manifest.LevelTypeNonoverlapping, TableInfos: []*manifest.SstableInfo{a}},
		{LevelIdx: 2, LevelType: manifest.LevelTypeNonoverlapping, TableInfos: []*manifest.SstableInfo{b}},
	}, 2, 0)
	require.Equal(t, uint64(10), input.SelectInputSize)
	require.Equal(t, uint64(30), input.TargetInputSize)
	require.Equal(t, uint64(2), input.TotalFileCount)
	require.Equal(t, "L1 non-overlapping [1] + L2 non-overlapping [2] -> L2", input.String())

	// Inputs that all live in L0 never count as target bytes.
	input = newCompactionInput([]manifest.InputLevel{
		{LevelIdx: 0, LevelType: manifest.LevelTypeNonoverlapping, TableInfos: []*manifest.SstableInfo{a}},
		{LevelIdx: 0, LevelType: manifest.LevelTypeOverlapping, TableInfos: []*manifest.SstableInfo{b}},
	}, 0, 3)
	require.Equal(t, uint64(40), input.SelectInputSize)
	require.Zero(t, input.TargetInputSize)
	require.Equal(t, "L0 non-overlapping [1] + L0 overlapping [2] -> L0.3", input.String())
}
