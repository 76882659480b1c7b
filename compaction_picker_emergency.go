// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/internal/overlap"
)

// emergencyCompactionPicker drains an L0 that has grown past the write stop
// threshold. It tries to move L0 data to the base level when most sub-levels
// are non-overlapping, and otherwise merges overlapping sub-levels without
// waiting for the usual file count trigger.
type emergencyCompactionPicker struct {
	targetLevel int
	config      *CompactionConfig
	strategy    overlap.Strategy
}

var _ compactionPicker = (*emergencyCompactionPicker)(nil)

func (p *emergencyCompactionPicker) pickCompaction(
	levels *manifest.Levels, handlers []*LevelHandler, stats *LocalPickerStatistic,
) *CompactionInput {
	var overlapping, nonOverlapping int
	for i := range levels.L0.SubLevels {
		if levels.L0.SubLevels[i].LevelType == manifest.LevelTypeOverlapping {
			overlapping++
		} else {
			nonOverlapping++
		}
	}
	if nonOverlapping >= overlapping {
		toBase := levelCompactionPicker{
			targetLevel: p.targetLevel,
			config:      p.config,
			strategy:    p.strategy,
		}
		if input := toBase.pickCompaction(levels, handlers, stats); input != nil {
			return input
		}
	}
	tier := tierCompactionPicker{config: p.config, relaxed: true}
	return tier.pickCompaction(levels, handlers, stats)
}
