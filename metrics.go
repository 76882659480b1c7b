// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"strconv"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the planner's prometheus collectors. It implements
// prometheus.Collector, so it can be registered as a whole.
type Metrics struct {
	// TasksPicked counts created tasks by group and task type.
	TasksPicked *prometheus.CounterVec
	// TrivialTasks counts created tasks that need no rewrite, by kind
	// ("move" or "reclaim").
	TrivialTasks *prometheus.CounterVec
	// TasksReported counts reported tasks by status.
	TasksReported *prometheus.CounterVec
	// PickerSkips counts the candidates rejected by pickers, by reason and
	// level pair.
	PickerSkips *prometheus.CounterVec
	// PendingFiles is the number of claimed sstables by group and level.
	PendingFiles *prometheus.GaugeVec
	// PendingBytes is the size of the claimed sstables by group and level.
	PendingBytes *prometheus.GaugeVec
	// InputBytes is the distribution of task input sizes.
	InputBytes prometheus.Histogram
}

var _ prometheus.Collector = (*Metrics)(nil)

// NewMetrics returns unregistered collectors.
func NewMetrics() *Metrics {
	const namespace, subsystem = "hummock", "compaction"
	return &Metrics{
		TasksPicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_picked_total",
			Help:      "Number of compaction tasks created.",
		}, []string{"group", "type"}),
		TrivialTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "trivial_tasks_total",
			Help:      "Number of compaction tasks that need no data rewrite.",
		}, []string{"group", "kind"}),
		TasksReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_reported_total",
			Help:      "Number of compaction tasks reported by the scheduler.",
		}, []string{"group", "status"}),
		PickerSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "picker_skips_total",
			Help:      "Number of compaction candidates rejected by pickers.",
		}, []string{"group", "reason", "start_level", "target_level"}),
		PendingFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_files",
			Help:      "Number of sstables claimed by running compaction tasks.",
		}, []string{"group", "level"}),
		PendingBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_bytes",
			Help:      "Size of the sstables claimed by running compaction tasks.",
		}, []string{"group", "level"}),
		InputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_input_bytes",
			Help:      "Input size of compaction tasks.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TasksPicked, m.TrivialTasks, m.TasksReported, m.PickerSkips,
		m.PendingFiles, m.PendingBytes, m.InputBytes,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func groupLabel(id base.CompactionGroupID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// recordTask accounts a created task.
func (m *Metrics) recordTask(task *CompactTask, trivialMove, trivialReclaim bool) {
	group := groupLabel(task.CompactionGroupID)
	m.TasksPicked.WithLabelValues(group, task.TaskType.String()).Inc()
	if trivialMove {
		m.TrivialTasks.WithLabelValues(group, "move").Inc()
	}
	if trivialReclaim {
		m.TrivialTasks.WithLabelValues(group, "reclaim").Inc()
	}
	m.InputBytes.Observe(float64(task.InputFileSize()))
}

// recordSkips accounts the picker skips of a selection.
func (m *Metrics) recordSkips(groupID base.CompactionGroupID, stats *LocalSelectorStatistic) {
	group := groupLabel(groupID)
	for _, s := range stats.SkipPickers {
		start, target := strconv.Itoa(s.StartLevel), strconv.Itoa(s.TargetLevel)
		add := func(reason string, n uint64) {
			if n > 0 {
				m.PickerSkips.WithLabelValues(group, reason, start, target).Add(float64(n))
			}
		}
		add("write-amp", s.Stats.SkipByWriteAmpLimit)
		add("count", s.Stats.SkipByCountLimit)
		add("pending-files", s.Stats.SkipByPendingFiles)
		add("overlapping", s.Stats.SkipByOverlapping)
	}
}

// updatePending sets the pending gauges of a group.
func (m *Metrics) updatePending(status *CompactStatus) {
	group := groupLabel(status.GroupID)
	for _, h := range status.LevelHandlers {
		level := strconv.Itoa(int(h.Level()))
		m.PendingFiles.WithLabelValues(group, level).Set(float64(h.PendingFileCount()))
		m.PendingBytes.WithLabelValues(group, level).Set(float64(h.PendingFileSize()))
	}
}
