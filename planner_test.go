// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type recordingLogger struct {
	mu  sync.Mutex
	buf strings.Builder
}

var _ base.Logger = (*recordingLogger)(nil)

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, format, args...)
	l.buf.WriteString("\n")
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

func (l *recordingLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func counterValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

const trivialMoveLayout = `
L0.1:
  1:[a-b] size:100
  2:[c-d] size:100
L4:
  10:[a-z] size:5000
members: 1 2
`

const bottomLevelsLayout = `
L1:
  1:[a-b] size:80
  2:[c-d] size:80
L2:
  10:[a-b] size:50
  11:[c-d] size:500
L3:
  20:[a-z] size:5000
`

func TestPlannerGroups(t *testing.T) {
	p := NewPlanner(Options{Logger: base.NoopLogger{}})

	bad := testCompactionConfig(4)
	bad.TombstoneReclaimRatio = 150
	err := p.AddGroup(&CompactionGroup{ID: 1, Config: bad})
	require.Error(t, err)
	require.Regexp(t, `compaction group 1: .*TombstoneReclaimRatio \(150\)`, err.Error())

	require.NoError(t, p.AddGroup(&CompactionGroup{ID: 1, Config: testCompactionConfig(4)}))
	// Replacing the config is allowed as long as the shape stays the same.
	cfg := testCompactionConfig(4)
	cfg.Level0TierCompactFileNumber = 2
	require.NoError(t, p.AddGroup(&CompactionGroup{ID: 1, Config: cfg}))
	err = p.AddGroup(&CompactionGroup{ID: 1, Config: testCompactionConfig(3)})
	require.Error(t, err)
	require.Regexp(t, `cannot change max level from 4 to 3`, err.Error())

	levels := manifest.NewLevels(2, 4)
	_, err = p.PickTask(2, levels, nil)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)
	_, err = p.GetCompactTask(2, levels, &DynamicLevelSelector{}, nil)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)
	_, err = p.PendingTasks(2)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)
	_, err = p.Status(2)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)
	err = p.ReportCompactTask(&CompactTask{TaskID: 1, CompactionGroupID: 2}, TaskStatusSuccess)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)

	status, err := p.Status(1)
	require.NoError(t, err)
	require.Equal(t, "no pending tasks\n", status)

	p.RemoveGroup(1)
	_, err = p.PendingTasks(1)
	require.True(t, errors.Is(err, ErrUnknownGroup), "%v", err)
}

func TestPlannerCheckLayout(t *testing.T) {
	p := NewPlanner(Options{Logger: base.NoopLogger{}})
	require.NoError(t, p.AddGroup(&CompactionGroup{ID: 1, Config: testCompactionConfig(4)}))

	_, err := p.PickTask(1, manifest.NewLevels(2, 4), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrCorruption))
	require.Regexp(t, `layout of group 2 passed for group 1`, err.Error())

	_, err = p.PickTask(1, manifest.NewLevels(1, 3), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrCorruption))
	require.Regexp(t, `layout has max level 3, expected 4`, err.Error())

	task, err := p.PickTask(1, manifest.NewLevels(1, 4), nil)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestPlannerPickTask(t *testing.T) {
	now := base.EpochOrigin.Add(10 * 24 * time.Hour)
	logger := &recordingLogger{}
	metrics := NewMetrics()
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(metrics)

	p := NewPlanner(Options{
		Logger:  logger,
		Metrics: metrics,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, p.AddGroup(&CompactionGroup{ID: 1, Config: testCompactionConfig(4)}))
	levels, err := manifest.ParseLevels(1, 4, trivialMoveLayout)
	require.NoError(t, err)
	tableOptions := map[base.TableID]TableOption{
		1: {RetentionSeconds: 3600},
		2: {},
		3: {RetentionSeconds: 60},
	}

	task, err := p.PickTask(1, levels, tableOptions)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t,
		"task 1 (group 1, dynamic): L0 non-overlapping [1] + L2 non-overlapping [] -> L2 base:L2 file-size:16 compression:Lz4",
		task.String(), "%s", pretty.Sprint(task))
	require.True(t, IsTrivialMoveTask(task))
	require.Equal(t, []base.TableID{1, 2}, task.ExistingTableIDs)
	require.Equal(t, map[base.TableID]TableOption{1: {RetentionSeconds: 3600}, 2: {}}, task.TableOptions)
	require.Equal(t, base.EpochFromTime(now), task.CurrentEpochTime)
	require.Contains(t, logger.String(), "[group 1] DynamicLevelCompaction: task 1 (group 1, dynamic)")
	require.Contains(t, logger.String(), "(trivial move)")

	// The layout is unchanged while the task runs, and nothing else needs
	// compacting. The task id of the empty call is not reused.
	next, err := p.PickTask(1, levels, tableOptions)
	require.NoError(t, err)
	require.Nil(t, next, "%s", pretty.Sprint(next))

	pending, err := p.PendingTasks(1)
	require.NoError(t, err)
	require.Equal(t, []base.TaskID{1}, pending)
	status, err := p.Status(1)
	require.NoError(t, err)
	require.Equal(t, "L0: task 1 -> L2 [1] (100 B)\n", status)

	require.Error(t, p.ReportCompactTask(task, TaskStatusPending))
	require.Error(t, p.ReportCompactTask(task, TaskStatusUnspecified))
	require.NoError(t, p.ReportCompactTask(task, TaskStatusFailed))
	require.Equal(t, TaskStatusFailed, task.TaskStatus)
	require.Contains(t, logger.String(), "[group 1] task 1 failed")
	pending, err = p.PendingTasks(1)
	require.NoError(t, err)
	require.Empty(t, pending)

	// The released sstable is picked again.
	task, err = p.PickTask(1, levels, tableOptions)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, base.TaskID(3), task.TaskID)
	require.Equal(t, []base.SstID{1}, inputSstIDs(task))

	require.Equal(t, 2.0, counterValue(t, metrics.TasksPicked.WithLabelValues("1", "dynamic")))
	require.Equal(t, 2.0, counterValue(t, metrics.TrivialTasks.WithLabelValues("1", "move")))
	require.Equal(t, 1.0, counterValue(t, metrics.TasksReported.WithLabelValues("1", "failed")))
	require.Equal(t, 1.0, counterValue(t, metrics.PendingFiles.WithLabelValues("1", "0")))
	require.Equal(t, 100.0, counterValue(t, metrics.PendingBytes.WithLabelValues("1", "0")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "hummock_compaction_tasks_picked_total")
	require.Contains(t, names, "hummock_compaction_task_input_bytes")
}

func TestPlannerManualCompaction(t *testing.T) {
	p := NewPlanner(Options{Logger: base.NoopLogger{}, FirstTaskID: 10})
	require.NoError(t, p.AddGroup(&CompactionGroup{ID: 1, Config: testCompactionConfig(3)}))
	levels, err := manifest.ParseLevels(1, 3, bottomLevelsLayout)
	require.NoError(t, err)

	selector := NewManualCompactionSelector(ManualCompactionOption{Level: 2, SstIDs: []base.SstID{11}})
	task, err := p.GetCompactTask(1, levels, selector, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, base.TaskID(10), task.TaskID)
	require.Equal(t, TaskTypeManual, task.TaskType)
	require.Equal(t, uint32(3), task.TargetLevel)
	require.True(t, task.GCDeleteKeys)
	require.Equal(t, []base.SstID{11, 20}, inputSstIDs(task))

	// The same request conflicts with the running task.
	again, err := p.GetCompactTask(1, levels, selector, nil)
	require.NoError(t, err)
	require.Nil(t, again)

	require.NoError(t, p.ReportCompactTask(task, TaskStatusCanceled))
	again, err = p.GetCompactTask(1, levels, selector, nil)
	require.NoError(t, err)
	require.Equal(t, inputSstIDs(task), inputSstIDs(again))
}

func TestPlannerConcurrentGroups(t *testing.T) {
	const numGroups = 8
	p := NewPlanner(Options{Logger: base.NoopLogger{}, Metrics: NewMetrics()})
	layouts := make([]*manifest.Levels, numGroups)
	for i := range layouts {
		id := base.CompactionGroupID(i + 1)
		require.NoError(t, p.AddGroup(&CompactionGroup{ID: id, Config: testCompactionConfig(3)}))
		levels, err := manifest.ParseLevels(id, 3, bottomLevelsLayout)
		require.NoError(t, err)
		layouts[i] = levels
	}

	picked := make([][]*CompactTask, numGroups)
	var g errgroup.Group
	for i := range layouts {
		g.Go(func() error {
			id := base.CompactionGroupID(i + 1)
			claimed := make(map[base.SstID]bool)
			for {
				task, err := p.PickTask(id, layouts[i], nil)
				if err != nil {
					return err
				}
				if task == nil {
					break
				}
				for _, sst := range inputSstIDs(task) {
					if claimed[sst] {
						return errors.Newf("group %d: sstable %d handed out twice", id, sst)
					}
					claimed[sst] = true
				}
				picked[i] = append(picked[i], task)
				if len(picked[i]) > 10 {
					return errors.Newf("group %d: too many tasks", id)
				}
			}
			for _, task := range picked[i] {
				if err := p.ReportCompactTask(task, TaskStatusSuccess); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ids := make(map[base.TaskID]bool)
	for i := range picked {
		require.Len(t, picked[i], 2)
		for _, task := range picked[i] {
			require.Equal(t, base.CompactionGroupID(i+1), task.CompactionGroupID)
			require.False(t, ids[task.TaskID], "task id %d reused", task.TaskID)
			ids[task.TaskID] = true
		}
		pending, err := p.PendingTasks(base.CompactionGroupID(i + 1))
		require.NoError(t, err)
		require.Empty(t, pending)
	}
}
