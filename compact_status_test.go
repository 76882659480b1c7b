// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"testing"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/stretchr/testify/require"
)

func inputLevel(level uint32, levelType manifest.LevelType, ssts []*manifest.SstableInfo) manifest.InputLevel {
	return manifest.InputLevel{LevelIdx: level, LevelType: levelType, TableInfos: ssts}
}

func TestIsTrivialMoveTask(t *testing.T) {
	ssts := parseSsts(t, "1:[a-b]", "2:[c-d]", "3:[e-f]", "4:[b-c]")
	concat := ssts[:3]
	withOverlap := append(append([]*manifest.SstableInfo{}, concat...), ssts[3])

	// A single sorted run of L0 moving to an empty L1.
	task := &CompactTask{
		InputSsts: []manifest.InputLevel{
			inputLevel(0, manifest.LevelTypeNonoverlapping, concat),
			inputLevel(1, manifest.LevelTypeNonoverlapping, nil),
		},
		TargetLevel: 1,
	}
	require.True(t, IsTrivialMoveTask(task))
	task.InputSsts[0].TableInfos = withOverlap
	require.False(t, IsTrivialMoveTask(task))

	// A single L0 input level.
	task = &CompactTask{
		InputSsts:   []manifest.InputLevel{inputLevel(0, manifest.LevelTypeNonoverlapping, concat)},
		TargetLevel: 0,
	}
	require.True(t, IsTrivialMoveTask(task))
	task.InputSsts[0].TableInfos = withOverlap
	require.False(t, IsTrivialMoveTask(task))

	for _, tc := range []struct {
		name   string
		inputs []manifest.InputLevel
		target uint32
	}{
		{
			name: "non-empty target",
			inputs: []manifest.InputLevel{
				inputLevel(1, manifest.LevelTypeNonoverlapping, concat[:1]),
				inputLevel(2, manifest.LevelTypeNonoverlapping, concat[1:2]),
			},
			target: 2,
		},
		{
			name: "same level rewrite",
			inputs: []manifest.InputLevel{
				inputLevel(3, manifest.LevelTypeNonoverlapping, concat),
				inputLevel(3, manifest.LevelTypeNonoverlapping, nil),
			},
			target: 3,
		},
		{
			name: "target mismatch",
			inputs: []manifest.InputLevel{
				inputLevel(1, manifest.LevelTypeNonoverlapping, concat),
				inputLevel(2, manifest.LevelTypeNonoverlapping, nil),
			},
			target: 3,
		},
		{
			name: "overlapping upper level",
			inputs: []manifest.InputLevel{
				inputLevel(0, manifest.LevelTypeOverlapping, concat),
				inputLevel(1, manifest.LevelTypeNonoverlapping, nil),
			},
			target: 1,
		},
		{
			name: "three levels",
			inputs: []manifest.InputLevel{
				inputLevel(0, manifest.LevelTypeNonoverlapping, concat[:1]),
				inputLevel(0, manifest.LevelTypeNonoverlapping, concat[1:2]),
				inputLevel(1, manifest.LevelTypeNonoverlapping, nil),
			},
			target: 1,
		},
		{
			name: "single non-L0 level",
			inputs: []manifest.InputLevel{
				inputLevel(2, manifest.LevelTypeNonoverlapping, concat),
			},
			target: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.False(t, IsTrivialMoveTask(&CompactTask{InputSsts: tc.inputs, TargetLevel: tc.target}))
		})
	}
}

func TestIsTrivialReclaim(t *testing.T) {
	ssts := parseSsts(t, "1:[a-b] tables:[1,2]", "2:[c-d] tables:[3]", "3:[e-f] tables:[4,5]")
	task := &CompactTask{
		InputSsts: []manifest.InputLevel{
			inputLevel(1, manifest.LevelTypeNonoverlapping, ssts[:2]),
			inputLevel(1, manifest.LevelTypeNonoverlapping, nil),
		},
		TargetLevel:      1,
		ExistingTableIDs: []base.TableID{5},
	}
	require.True(t, IsTrivialReclaim(task))

	task.InputSsts[0].TableInfos = ssts
	require.False(t, IsTrivialReclaim(task))

	task.InputSsts[0].TableInfos = ssts[:2]
	task.ExistingTableIDs = []base.TableID{3, 5}
	require.False(t, IsTrivialReclaim(task))

	// Tasks without table data have nothing to reclaim.
	task.ExistingTableIDs = nil
	task.InputSsts[0].TableInfos = nil
	require.False(t, IsTrivialReclaim(task))
	task.InputSsts[0].TableInfos = parseSsts(t, "4:[g-h]", "5:[i-j]")
	require.False(t, IsTrivialReclaim(task))
	require.False(t, IsTrivialReclaim(&CompactTask{}))
}

func TestCompactStatusClaims(t *testing.T) {
	levels, err := manifest.ParseLevels(1, 3, `
L0.1:
  1:[a-b] size:100
  2:[c-d] size:100
L1:
  10:[a-z] size:50
L3:
  30:[a-z] size:5000
`)
	require.NoError(t, err)
	group, err := NewCompactionGroup(1, testCompactionConfig(3))
	require.NoError(t, err)
	status := NewCompactStatus(1, 3)
	require.Equal(t, 3, status.MaxLevel())

	selector := &DynamicLevelSelector{}
	seen := make(map[base.SstID]base.TaskID)
	var tasks []*CompactTask
	for id := base.TaskID(1); ; id++ {
		task := status.GetCompactTask(levels, id, group, nil, selector, nil)
		if task == nil {
			break
		}
		require.Equal(t, TaskStatusPending, task.TaskStatus)
		require.Equal(t, []base.KeyRange{base.InfKeyRange()}, task.Splits)
		require.Equal(t, base.MaxEpoch, task.Watermark)
		// No sstable is handed to two running tasks.
		for _, sst := range inputSstIDs(task) {
			prev, ok := seen[sst]
			require.Falsef(t, ok, "sstable %d in tasks %d and %d", sst, prev, id)
			seen[sst] = id
		}
		tasks = append(tasks, task)
		require.Less(t, len(tasks), 10)
	}
	require.NotEmpty(t, tasks)
	require.Len(t, status.PendingTaskIDs(), len(tasks))

	// A clone is independent of the original.
	clone := status.Clone()
	for _, task := range tasks {
		clone.ReportCompactTask(task)
	}
	require.Equal(t, "no pending tasks\n", clone.String())
	require.Len(t, status.PendingTaskIDs(), len(tasks))

	// Reporting releases every claim, and reporting again is harmless.
	for _, task := range tasks {
		status.ReportCompactTask(task)
		status.ReportCompactTask(task)
	}
	require.Empty(t, status.PendingTaskIDs())
	for _, h := range status.LevelHandlers {
		require.Zero(t, h.PendingFileCount())
		require.Zero(t, h.PendingFileSize())
	}

	// The same tasks can be picked again.
	task := status.GetCompactTask(levels, 100, group, nil, selector, nil)
	require.NotNil(t, task)
	require.Equal(t, inputSstIDs(tasks[0]), inputSstIDs(task))
}

func TestCompactStatusEmptyLayout(t *testing.T) {
	levels := manifest.NewLevels(1, 4)
	group, err := NewCompactionGroup(1, testCompactionConfig(4))
	require.NoError(t, err)
	status := NewCompactStatus(1, 4)
	for _, selector := range DefaultSelectors(nil) {
		var stats LocalSelectorStatistic
		require.Nil(t, status.GetCompactTask(levels, 1, group, &stats, selector, nil), selector.Name())
		require.Empty(t, stats.SkipPickers)
	}
	require.Equal(t, "no pending tasks\n", status.String())

	// A layout with the wrong number of levels is rejected.
	require.Panics(t, func() {
		status.GetCompactTask(manifest.NewLevels(1, 3), 1, group, nil, &DynamicLevelSelector{}, nil)
	})
}
