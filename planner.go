// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// ErrUnknownGroup is returned for operations on a compaction group that was
// never added to the planner.
var ErrUnknownGroup = errors.New("hummock: unknown compaction group")

// Options configure a Planner.
type Options struct {
	// Logger is used to log created tasks. Defaults to base.DefaultLogger.
	Logger base.Logger
	// Metrics is optional.
	Metrics *Metrics
	// Selectors is the selector registry walked by PickTask, in priority
	// order. Defaults to DefaultSelectors.
	Selectors []CompactionSelector
	// Now returns the current time; it defaults to time.Now.
	Now func() time.Time
	// FirstTaskID is the id of the first task created. Defaults to 1.
	FirstTaskID base.TaskID
}

// EnsureDefaults fills unset options.
func (o *Options) EnsureDefaults() *Options {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Selectors == nil {
		o.Selectors = DefaultSelectors(o.Now)
	}
	if o.FirstTaskID == 0 {
		o.FirstTaskID = 1
	}
	return o
}

// DefaultSelectors returns a new registry with the default priority order:
// emergency, dynamic, space reclaim, TTL and tombstone reclaim. Stateful
// selectors are fresh instances.
func DefaultSelectors(now func() time.Time) []CompactionSelector {
	return []CompactionSelector{
		&EmergencySelector{},
		&DynamicLevelSelector{},
		&SpaceReclaimCompactionSelector{},
		&TTLCompactionSelector{Now: now},
		&TombstoneCompactionSelector{},
	}
}

// groupState is the planner state of a compaction group. mu is held across
// pick-then-claim and across report.
type groupState struct {
	mu     sync.Mutex
	group  *CompactionGroup
	status *CompactStatus
}

// Planner plans compactions for a set of compaction groups. Groups are
// planned independently; calls for the same group are serialized.
type Planner struct {
	opts       Options
	nextTaskID atomic.Uint64

	mu struct {
		sync.Mutex
		groups map[base.CompactionGroupID]*groupState
	}
}

// NewPlanner returns a planner without groups.
func NewPlanner(opts Options) *Planner {
	opts.EnsureDefaults()
	p := &Planner{opts: opts}
	p.nextTaskID.Store(uint64(opts.FirstTaskID))
	p.mu.groups = make(map[base.CompactionGroupID]*groupState)
	return p
}

// AddGroup starts tracking a group. Adding a known group replaces its config
// and keeps its running tasks.
func (p *Planner) AddGroup(group *CompactionGroup) error {
	if err := group.Config.Validate(); err != nil {
		return errors.Wrapf(err, "compaction group %d", group.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.mu.groups[group.ID]; ok {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.status.MaxLevel() != group.Config.MaxLevel {
			return errors.Newf("compaction group %d: cannot change max level from %d to %d",
				group.ID, g.status.MaxLevel(), group.Config.MaxLevel)
		}
		g.group = group
		return nil
	}
	p.mu.groups[group.ID] = &groupState{
		group:  group,
		status: NewCompactStatus(group.ID, group.Config.MaxLevel),
	}
	return nil
}

// RemoveGroup stops tracking a group, dropping its claims.
func (p *Planner) RemoveGroup(id base.CompactionGroupID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mu.groups, id)
}

func (p *Planner) getGroup(id base.CompactionGroupID) (*groupState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.mu.groups[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("compaction group %d", id), ErrUnknownGroup)
	}
	return g, nil
}

// GetCompactTask runs one selector against the layout of a group. It returns
// nil without error when the selector finds nothing to do.
func (p *Planner) GetCompactTask(
	groupID base.CompactionGroupID,
	levels *manifest.Levels,
	selector CompactionSelector,
	tableOptions map[base.TableID]TableOption,
) (*CompactTask, error) {
	g, err := p.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := p.checkLayout(g, levels); err != nil {
		return nil, err
	}
	return p.getCompactTaskLocked(g, p.allocTaskID(), levels, selector, tableOptions), nil
}

// PickTask walks the selector registry in order and returns the first task
// found, or nil.
func (p *Planner) PickTask(
	groupID base.CompactionGroupID, levels *manifest.Levels, tableOptions map[base.TableID]TableOption,
) (*CompactTask, error) {
	g, err := p.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := p.checkLayout(g, levels); err != nil {
		return nil, err
	}
	taskID := p.allocTaskID()
	for _, selector := range p.opts.Selectors {
		if task := p.getCompactTaskLocked(g, taskID, levels, selector, tableOptions); task != nil {
			return task, nil
		}
	}
	return nil, nil
}

// allocTaskID returns a fresh task id. Ids of calls that find nothing to do
// are not reused.
func (p *Planner) allocTaskID() base.TaskID {
	return base.TaskID(p.nextTaskID.Add(1) - 1)
}

func (p *Planner) checkLayout(g *groupState, levels *manifest.Levels) error {
	if levels.GroupID != g.group.ID {
		return base.CorruptionErrorf("layout of group %d passed for group %d", levels.GroupID, g.group.ID)
	}
	if levels.MaxLevel() != g.status.MaxLevel() {
		return base.CorruptionErrorf("group %d: layout has max level %d, expected %d",
			g.group.ID, levels.MaxLevel(), g.status.MaxLevel())
	}
	return nil
}

func (p *Planner) getCompactTaskLocked(
	g *groupState,
	taskID base.TaskID,
	levels *manifest.Levels,
	selector CompactionSelector,
	tableOptions map[base.TableID]TableOption,
) *CompactTask {
	var stats LocalSelectorStatistic
	task := g.status.GetCompactTask(levels, taskID, g.group, &stats, selector, tableOptions)
	if p.opts.Metrics != nil {
		p.opts.Metrics.recordSkips(g.group.ID, &stats)
	}
	if task == nil {
		return nil
	}

	task.ExistingTableIDs = slices.Clone(levels.MemberTableIDs)
	task.TableOptions = make(map[base.TableID]TableOption, len(task.ExistingTableIDs))
	for _, id := range task.ExistingTableIDs {
		if opt, ok := tableOptions[id]; ok {
			task.TableOptions[id] = opt
		}
	}
	task.CurrentEpochTime = base.EpochFromTime(p.opts.Now())

	trivialReclaim := IsTrivialReclaim(task)
	trivialMove := !trivialReclaim && IsTrivialMoveTask(task)
	if p.opts.Metrics != nil {
		p.opts.Metrics.recordTask(task, trivialMove, trivialReclaim)
		p.opts.Metrics.updatePending(g.status)
	}
	switch {
	case trivialReclaim:
		p.opts.Logger.Infof("[group %d] %s: %s (trivial reclaim)", g.group.ID, selector.Name(), task)
	case trivialMove:
		p.opts.Logger.Infof("[group %d] %s: %s (trivial move)", g.group.ID, selector.Name(), task)
	default:
		p.opts.Logger.Infof("[group %d] %s: %s", g.group.ID, selector.Name(), task)
	}
	return task
}

// ReportCompactTask records the outcome of a task and releases its claims.
// Reporting a task twice is harmless.
func (p *Planner) ReportCompactTask(task *CompactTask, status TaskStatus) error {
	if status == TaskStatusUnspecified || status == TaskStatusPending {
		return errors.Newf("task %d: cannot report status %s", task.TaskID, status)
	}
	g, err := p.getGroup(task.CompactionGroupID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status.ReportCompactTask(task)
	task.TaskStatus = status
	if p.opts.Metrics != nil {
		p.opts.Metrics.TasksReported.WithLabelValues(groupLabel(g.group.ID), status.String()).Inc()
		p.opts.Metrics.updatePending(g.status)
	}
	if status != TaskStatusSuccess {
		p.opts.Logger.Infof("[group %d] task %d %s", g.group.ID, task.TaskID, status)
	}
	return nil
}

// PendingTasks returns the ids of the running tasks of a group.
func (p *Planner) PendingTasks(groupID base.CompactionGroupID) ([]base.TaskID, error) {
	g, err := p.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status.PendingTaskIDs(), nil
}

// Status describes the running tasks of a group.
func (p *Planner) Status(groupID base.CompactionGroupID) (string, error) {
	g, err := p.getGroup(groupID)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status.String(), nil
}
