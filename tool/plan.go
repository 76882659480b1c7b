// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// planT implements the plan tool.
type planT struct {
	Root *cobra.Command

	flags    configFlags
	groupID  uint64
	selector string
	count    int
	verbose  bool

	manualLevel int
	manualSsts  []int
}

func newPlan() *planT {
	p := &planT{}
	p.Root = &cobra.Command{
		Use:   "plan <layout-file>",
		Short: "plan compactions for an LSM layout",
		Long: `
Print the level sizing and compaction scores of an LSM layout, then pick up to
--count tasks. Tasks stay claimed, so later picks see the earlier ones as
running.

The layout file lists sstables per level, oldest L0 sub-level first:

  L0.1 overlapping:
    1:[a-c] size:10 tables:[1]
  L1:
    10:[a-f] size:100 tables:[1]
  members: 1
`,
		Args: cobra.ExactArgs(1),
		Run:  p.run,
	}
	p.flags.register(p.Root)
	p.Root.Flags().Uint64Var(&p.groupID, "group", 1, "compaction group id of the layout")
	p.Root.Flags().StringVar(&p.selector, "selector", "all",
		"selector to run: all, emergency, dynamic, space-reclaim, ttl, tombstone or manual")
	p.Root.Flags().IntVar(&p.count, "count", 1, "maximum number of tasks to pick")
	p.Root.Flags().BoolVarP(&p.verbose, "verbose", "v", false, "log picked tasks")
	p.Root.Flags().IntVar(&p.manualLevel, "manual-level", 0, "level of a manual compaction")
	p.Root.Flags().IntSliceVar(&p.manualSsts, "manual-ssts", nil, "sstables of a manual compaction")
	return p
}

// newSelector returns the selector with the given name, or nil for "all".
func (p *planT) newSelector() (hummock.CompactionSelector, error) {
	switch p.selector {
	case "all":
		return nil, nil
	case "emergency":
		return &hummock.EmergencySelector{}, nil
	case "dynamic":
		return &hummock.DynamicLevelSelector{}, nil
	case "space-reclaim":
		return &hummock.SpaceReclaimCompactionSelector{}, nil
	case "ttl":
		return &hummock.TTLCompactionSelector{}, nil
	case "tombstone":
		return &hummock.TombstoneCompactionSelector{}, nil
	case "manual":
		opt := hummock.ManualCompactionOption{Level: p.manualLevel}
		for _, id := range p.manualSsts {
			opt.SstIDs = append(opt.SstIDs, base.SstID(id))
		}
		return hummock.NewManualCompactionSelector(opt), nil
	}
	return nil, errors.Newf("unknown selector %q", p.selector)
}

func (p *planT) run(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.OutOrStderr()
	if err := p.runE(stdout, stderr, args[0]); err != nil {
		fmt.Fprintf(stderr, "%s\n", strings.TrimSpace(err.Error()))
	}
}

func (p *planT) runE(stdout, stderr io.Writer, path string) error {
	cfg, err := p.flags.load()
	if err != nil {
		return err
	}
	groupID := base.CompactionGroupID(p.groupID)
	levels, err := loadLayout(path, groupID, cfg.MaxLevel)
	if err != nil {
		return err
	}
	group, err := hummock.NewCompactionGroup(groupID, cfg)
	if err != nil {
		return err
	}
	selector, err := p.newSelector()
	if err != nil {
		return err
	}
	planner := hummock.NewPlanner(hummock.Options{Logger: logger(p.verbose, stderr)})
	if err := planner.AddGroup(group); err != nil {
		return err
	}

	handlers := hummock.NewCompactStatus(groupID, cfg.MaxLevel).LevelHandlers
	ctx := hummock.NewDynamicLevelSelectorCore(group.Config).GetPriorityLevels(levels, handlers)
	fmt.Fprintf(stdout, "base level: L%d\n", ctx.BaseLevel)
	writeLevelTable(stdout, levels, ctx)
	if len(ctx.ScoreLevels) > 0 {
		fmt.Fprintf(stdout, "scores:\n")
		for _, s := range ctx.ScoreLevels {
			fmt.Fprintf(stdout, "  %s L%d->L%d score=%d\n", s.PickerType, s.SelectLevel, s.TargetLevel, s.Score)
		}
	}

	for i := 0; i < p.count; i++ {
		var task *hummock.CompactTask
		if selector == nil {
			task, err = planner.PickTask(groupID, levels, nil)
		} else {
			task, err = planner.GetCompactTask(groupID, levels, selector, nil)
		}
		if err != nil {
			return err
		}
		if task == nil {
			fmt.Fprintf(stdout, "no task\n")
			break
		}
		fmt.Fprintf(stdout, "%s\n", task)
		if hummock.IsTrivialMoveTask(task) {
			fmt.Fprintf(stdout, "  trivial move\n")
		}
	}

	status, err := planner.Status(groupID)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pending tasks:\n%s", status)
	return nil
}

// writeLevelTable prints the file count, size and size target of every
// level. Levels above the base level have no size target.
func writeLevelTable(w io.Writer, levels *manifest.Levels, ctx *hummock.SelectContext) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"LEVEL", "FILES", "SIZE", "MAX BYTES"})
	tbl.SetAutoFormatHeaders(false)
	tbl.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tbl.SetAlignment(tablewriter.ALIGN_LEFT)
	maxBytes := func(level int) string {
		if level == 0 || ctx.LevelMaxBytes[level] == math.MaxUint64 {
			return "-"
		}
		return strconv.FormatUint(ctx.LevelMaxBytes[level], 10)
	}
	tbl.Append([]string{
		"L0",
		strconv.Itoa(levels.L0.FileCount()),
		strconv.FormatUint(levels.L0.TotalFileSize, 10),
		maxBytes(0),
	})
	for i := 1; i <= levels.MaxLevel(); i++ {
		l := levels.GetLevel(i)
		tbl.Append([]string{
			fmt.Sprintf("L%d", i),
			strconv.Itoa(len(l.TableInfos)),
			strconv.FormatUint(l.TotalFileSize, 10),
			maxBytes(i),
		})
	}
	tbl.Render()
}
