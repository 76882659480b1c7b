// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

// simTableID is the table written by simulated flushes.
const simTableID base.TableID = 1

// simulateT implements the simulate tool.
type simulateT struct {
	Root *cobra.Command

	flags       configFlags
	layout      string
	steps       int
	flushSize   uint64
	keySpace    int
	seed        uint64
	concurrency int
	interval    time.Duration
	ttl         time.Duration
	plot        bool
	verbose     bool
}

func newSimulate() *simulateT {
	s := &simulateT{}
	s.Root = &cobra.Command{
		Use:   "simulate",
		Short: "simulate compactions under a flush workload",
		Long: `
Repeatedly flush an sstable over a random key range into a new L0 sub-level,
then pick and apply compactions until the planner finds nothing to do or
--concurrency tasks are running. Compactions complete within the step they
are picked in. Prints write amplification, the task input size distribution,
the final layout and a plot of the L0 depth.
`,
		Args: cobra.NoArgs,
		Run:  s.run,
	}
	s.flags.register(s.Root)
	s.Root.Flags().StringVar(&s.layout, "layout", "", "initial layout file (empty if unset)")
	s.Root.Flags().IntVar(&s.steps, "steps", 100, "number of flushes")
	s.Root.Flags().Uint64Var(&s.flushSize, "flush-size", 0, "size of a flushed sstable (defaults to target_file_size_base)")
	s.Root.Flags().IntVar(&s.keySpace, "key-space", 1000000, "number of distinct keys")
	s.Root.Flags().Uint64Var(&s.seed, "seed", 1, "random seed")
	s.Root.Flags().IntVarP(&s.concurrency, "concurrency", "c", 4, "maximum number of tasks picked per step")
	s.Root.Flags().DurationVar(&s.interval, "interval", time.Minute, "simulated time between flushes")
	s.Root.Flags().DurationVar(&s.ttl, "ttl", 0, "retention of the flushed table (no expiry if zero)")
	s.Root.Flags().BoolVar(&s.plot, "plot", true, "plot the L0 depth")
	s.Root.Flags().BoolVarP(&s.verbose, "verbose", "v", false, "log picked tasks")
	return s
}

func (s *simulateT) run(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.OutOrStderr()
	if err := s.runE(stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "%s\n", strings.TrimSpace(err.Error()))
	}
}

func (s *simulateT) runE(stdout, stderr io.Writer) error {
	cfg, err := s.flags.load()
	if err != nil {
		return err
	}
	const groupID = 1
	levels := manifest.NewLevels(groupID, cfg.MaxLevel)
	if s.layout != "" {
		if levels, err = loadLayout(s.layout, groupID, cfg.MaxLevel); err != nil {
			return err
		}
	}
	opts := simOptions{
		flushSize:   s.flushSize,
		keySpace:    s.keySpace,
		seed:        s.seed,
		concurrency: s.concurrency,
		interval:    s.interval,
		ttl:         s.ttl,
		logger:      logger(s.verbose, stderr),
	}
	sim, err := newSimulator(cfg, levels, opts)
	if err != nil {
		return err
	}
	for i := 0; i < s.steps; i++ {
		if err := sim.step(); err != nil {
			return errors.Wrapf(err, "step %d", i+1)
		}
	}
	sim.writeSummary(stdout, s.plot)
	return nil
}

type simOptions struct {
	flushSize   uint64
	keySpace    int
	seed        uint64
	concurrency int
	interval    time.Duration
	ttl         time.Duration
	logger      base.Logger
}

// simulator drives a planner against a layout that it updates with the
// outcome of every task.
type simulator struct {
	opts    simOptions
	cfg     *hummock.CompactionConfig
	groupID base.CompactionGroupID
	planner *hummock.Planner
	levels  *manifest.Levels
	rng     *rand.Rand
	now     time.Time

	tableOptions   map[base.TableID]hummock.TableOption
	nextSstID      base.SstID
	nextSubLevelID uint64

	steps        int
	flushed      uint64
	compacted    uint64
	reclaimed    uint64
	tasksByType  map[hummock.TaskType]int
	trivialMoves int
	histErrors   int
	inputSizes   *hdrhistogram.Histogram
	l0Depth      []float64
}

func newSimulator(
	cfg *hummock.CompactionConfig, levels *manifest.Levels, opts simOptions,
) (*simulator, error) {
	if opts.flushSize == 0 {
		opts.flushSize = cfg.TargetFileSizeBase
	}
	if opts.keySpace < 1 {
		return nil, errors.Newf("key space must be positive")
	}
	if opts.concurrency < 1 {
		opts.concurrency = 1
	}
	if opts.logger == nil {
		opts.logger = base.NoopLogger{}
	}
	s := &simulator{
		opts:        opts,
		cfg:         cfg,
		groupID:     levels.GroupID,
		levels:      levels,
		rng:         rand.New(rand.NewPCG(opts.seed, opts.seed)),
		now:         base.EpochOrigin,
		tasksByType: make(map[hummock.TaskType]int),
		inputSizes:  hdrhistogram.New(1, 1<<40, 2),
	}
	if len(levels.MemberTableIDs) == 0 {
		levels.MemberTableIDs = []base.TableID{simTableID}
	}
	s.tableOptions = map[base.TableID]hummock.TableOption{
		simTableID: {RetentionSeconds: uint32(opts.ttl / time.Second)},
	}

	// New sstables and sub-levels get ids above the ones of the layout, and
	// new data is younger than all of it.
	var maxEpoch base.Epoch
	visit := func(l *manifest.Level) {
		for _, t := range l.TableInfos {
			s.nextSstID = max(s.nextSstID, t.SstID)
			maxEpoch = max(maxEpoch, t.MaxEpoch)
		}
	}
	for i := range levels.L0.SubLevels {
		s.nextSubLevelID = max(s.nextSubLevelID, levels.L0.SubLevels[i].SubLevelID)
		visit(&levels.L0.SubLevels[i])
	}
	for i := range levels.Levels {
		visit(&levels.Levels[i])
	}
	s.nextSstID++
	s.nextSubLevelID++
	if maxEpoch != base.MaxEpoch && maxEpoch.Time().After(s.now) {
		s.now = maxEpoch.Time()
	}

	s.planner = hummock.NewPlanner(hummock.Options{
		Logger: opts.logger,
		Now:    func() time.Time { return s.now },
	})
	group, err := hummock.NewCompactionGroup(s.groupID, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.planner.AddGroup(group); err != nil {
		return nil, err
	}
	return s, nil
}

func simKey(i int) []byte {
	return []byte(fmt.Sprintf("k%08d", i))
}

func (s *simulator) allocSstID() base.SstID {
	id := s.nextSstID
	s.nextSstID++
	return id
}

// flush adds a sub-level holding one sstable over a random key range.
func (s *simulator) flush() {
	start := s.rng.IntN(s.opts.keySpace)
	end := min(start+s.rng.IntN(max(1, s.opts.keySpace/8)), s.opts.keySpace-1)
	epoch := base.EpochFromTime(s.now)
	sst := &manifest.SstableInfo{
		SstID:         s.allocSstID(),
		KeyRange:      base.KeyRangeInclusive(simKey(start), simKey(end)),
		TableIDs:      []base.TableID{simTableID},
		FileSize:      s.opts.flushSize,
		MinEpoch:      epoch,
		MaxEpoch:      epoch,
		TotalKeyCount: uint64(end - start + 1),
	}
	s.levels.AddSubLevel(s.nextSubLevelID, manifest.LevelTypeNonoverlapping, []*manifest.SstableInfo{sst})
	s.nextSubLevelID++
	s.flushed += s.opts.flushSize
}

// step advances the clock, flushes, then picks and applies tasks.
func (s *simulator) step() error {
	s.steps++
	s.now = s.now.Add(s.opts.interval)
	s.flush()

	var tasks []*hummock.CompactTask
	for len(tasks) < s.opts.concurrency {
		task, err := s.planner.PickTask(s.groupID, s.levels, s.tableOptions)
		if err != nil {
			return err
		}
		if task == nil {
			break
		}
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		if err := s.apply(task); err != nil {
			return err
		}
		if err := s.planner.ReportCompactTask(task, hummock.TaskStatusSuccess); err != nil {
			return err
		}
	}
	s.l0Depth = append(s.l0Depth, float64(len(s.levels.L0.SubLevels)))
	return nil
}

// apply replaces the inputs of the task by its outputs.
func (s *simulator) apply(task *hummock.CompactTask) error {
	var inputs []*manifest.SstableInfo
	for i := range task.InputSsts {
		inputs = append(inputs, task.InputSsts[i].TableInfos...)
	}
	inputSize := task.InputFileSize()
	s.tasksByType[task.TaskType]++
	if err := s.inputSizes.RecordValue(int64(inputSize)); err != nil {
		s.histErrors++
	}

	var outputs []*manifest.SstableInfo
	if hummock.IsTrivialMoveTask(task) {
		s.trivialMoves++
		outputs = slices.Clone(inputs)
		manifest.SortByKey(outputs)
	} else if out := s.compactionOutput(task, inputs); out != nil {
		outputs = append(outputs, out)
		s.compacted += out.FileSize
	}
	s.reclaimed += inputSize - manifest.TotalFileSize(outputs)
	return errors.Wrapf(applyCompaction(s.levels, task, outputs), "applying %s", task)
}

// compactionOutput merges the inputs into a single sstable. Stale keys, data
// of dropped tables and expired data are not written.
func (s *simulator) compactionOutput(
	task *hummock.CompactTask, inputs []*manifest.SstableInfo,
) *manifest.SstableInfo {
	if task.TaskType == hummock.TaskTypeTTL || len(inputs) == 0 {
		return nil
	}
	out := &manifest.SstableInfo{
		SstID:    s.allocSstID(),
		KeyRange: manifest.KeyRangeOf(inputs).Clone(),
		MinEpoch: base.MaxEpoch,
	}
	for _, sst := range inputs {
		live := sst.FileSize
		if sst.TotalKeyCount > 0 && sst.StaleKeyCount > 0 {
			live = sst.FileSize * (sst.TotalKeyCount - min(sst.StaleKeyCount, sst.TotalKeyCount)) / sst.TotalKeyCount
		}
		kept := 0
		for _, id := range sst.TableIDs {
			if slices.Contains(s.levels.MemberTableIDs, id) {
				out.TableIDs = append(out.TableIDs, id)
				kept++
			}
		}
		if len(sst.TableIDs) > 0 && kept < len(sst.TableIDs) {
			live = live * uint64(kept) / uint64(len(sst.TableIDs))
		}
		out.FileSize += live
		out.TotalKeyCount += sst.TotalKeyCount - min(sst.StaleKeyCount, sst.TotalKeyCount)
		out.MinEpoch = min(out.MinEpoch, sst.MinEpoch)
		out.MaxEpoch = max(out.MaxEpoch, sst.MaxEpoch)
	}
	slices.Sort(out.TableIDs)
	out.TableIDs = slices.Compact(out.TableIDs)
	if out.FileSize == 0 {
		return nil
	}
	return out
}

// applyCompaction removes the input sstables of the task from the layout and
// adds outputs to the target level. An L0 target receives the outputs in the
// sub-level TargetSubLevelID; sub-levels left empty are dropped.
func applyCompaction(
	levels *manifest.Levels, task *hummock.CompactTask, outputs []*manifest.SstableInfo,
) error {
	consumed := make(map[base.SstID]bool)
	for i := range task.InputSsts {
		for _, sst := range task.InputSsts[i].TableInfos {
			consumed[sst.SstID] = true
		}
	}
	remaining := func(ssts []*manifest.SstableInfo) []*manifest.SstableInfo {
		return slices.DeleteFunc(slices.Clone(ssts), func(sst *manifest.SstableInfo) bool {
			return consumed[sst.SstID]
		})
	}
	merged := func(ssts []*manifest.SstableInfo) []*manifest.SstableInfo {
		res := append(remaining(ssts), outputs...)
		manifest.SortByKey(res)
		return res
	}

	if task.TargetLevel > 0 {
		if int(task.TargetLevel) > levels.MaxLevel() {
			return errors.AssertionFailedf("target level L%d out of range", task.TargetLevel)
		}
		levels.SetLevel(int(task.TargetLevel), merged(levels.GetLevel(int(task.TargetLevel)).TableInfos))
	}
	for i := 1; i <= levels.MaxLevel(); i++ {
		if i != int(task.TargetLevel) {
			levels.SetLevel(i, remaining(levels.GetLevel(i).TableInfos))
		}
	}

	found := task.TargetLevel > 0
	subLevels := levels.L0.SubLevels[:0]
	levels.L0.TotalFileSize = 0
	for _, sl := range levels.L0.SubLevels {
		var tables []*manifest.SstableInfo
		levelType := sl.LevelType
		if task.TargetLevel == 0 && sl.SubLevelID == task.TargetSubLevelID {
			found = true
			if len(remaining(sl.TableInfos)) == 0 {
				levelType = manifest.LevelTypeNonoverlapping
			}
			tables = merged(sl.TableInfos)
		} else {
			tables = remaining(sl.TableInfos)
		}
		if len(tables) == 0 {
			continue
		}
		nl := manifest.MakeLevel(0, levelType, sl.SubLevelID, tables)
		subLevels = append(subLevels, nl)
		levels.L0.TotalFileSize += nl.TotalFileSize
	}
	levels.L0.SubLevels = subLevels
	if !found {
		return errors.Newf("target sub-level %d not found", task.TargetSubLevelID)
	}
	return levels.CheckInvariants()
}

// layoutSize returns the total size of the sstables of the layout.
func layoutSize(levels *manifest.Levels) uint64 {
	size := levels.L0.TotalFileSize
	for i := range levels.Levels {
		size += levels.Levels[i].TotalFileSize
	}
	return size
}

func (s *simulator) writeSummary(w io.Writer, plot bool) {
	fmt.Fprintf(w, "steps: %d\n", s.steps)
	fmt.Fprintf(w, "flushed: %s\n", crhumanize.Bytes(s.flushed, crhumanize.Compact, crhumanize.OmitI))
	fmt.Fprintf(w, "compacted: %s\n", crhumanize.Bytes(s.compacted, crhumanize.Compact, crhumanize.OmitI))
	fmt.Fprintf(w, "reclaimed: %s\n", crhumanize.Bytes(s.reclaimed, crhumanize.Compact, crhumanize.OmitI))
	if s.flushed > 0 {
		fmt.Fprintf(w, "write amplification: %.2f\n", float64(s.flushed+s.compacted)/float64(s.flushed))
	}

	var total int
	types := make([]hummock.TaskType, 0, len(s.tasksByType))
	for t, n := range s.tasksByType {
		types = append(types, t)
		total += n
	}
	slices.Sort(types)
	fmt.Fprintf(w, "tasks: %d (trivial moves: %d)\n", total, s.trivialMoves)
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %d\n", t, s.tasksByType[t])
	}
	if total > 0 {
		h := s.inputSizes
		fmt.Fprintf(w, "task input bytes: p50=%d p95=%d p99=%d max=%d\n",
			h.ValueAtQuantile(50), h.ValueAtQuantile(95), h.ValueAtQuantile(99), h.Max())
	}
	if s.histErrors > 0 {
		fmt.Fprintf(w, "(%d task sizes out of histogram range)\n", s.histErrors)
	}

	ctx := hummock.NewDynamicLevelSelectorCore(s.cfg).CalculateLevelBaseSize(s.levels)
	fmt.Fprintf(w, "base level: L%d, L0 sub-levels: %d\n", ctx.BaseLevel, len(s.levels.L0.SubLevels))
	writeLevelTable(w, s.levels, ctx)

	if plot && len(s.l0Depth) > 0 {
		fmt.Fprintln(w, asciigraph.Plot(s.l0Depth, asciigraph.Height(10), asciigraph.Caption("L0 sub-levels per step")))
	}
}
