// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultCompactionConfig(t *testing.T) {
	cfg := DefaultCompactionConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 6, cfg.MaxLevel)
	require.Equal(t, CompactionModeRange, cfg.CompactionMode)
	require.True(t, cfg.EnableEmergencyPicker)
	require.Len(t, cfg.CompressionAlgorithm, cfg.MaxLevel+1)

	// EnsureDefaults leaves explicit values alone.
	cfg = (&CompactionConfig{MaxLevel: 3, TargetFileSizeBase: 8}).EnsureDefaults()
	require.Equal(t, 3, cfg.MaxLevel)
	require.Equal(t, uint64(8), cfg.TargetFileSizeBase)
	require.Equal(t, []string{"None", "Lz4", "Zstd", "Zstd"}, cfg.CompressionAlgorithm)
	require.False(t, cfg.EnableEmergencyPicker)

	c := cfg.Clone()
	c.CompressionAlgorithm[0] = "Zstd"
	require.Equal(t, "None", cfg.CompressionAlgorithm[0])
}

func TestCompactionConfigStringParse(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.SplitByStateTable = true
	cfg.SplitWeightByVnode = 4
	cfg.CompactionFilterMask = 6
	str := cfg.String()
	require.True(t, strings.HasPrefix(str, "[Compaction]\n"))

	var parsed CompactionConfig
	require.NoError(t, parsed.Parse(str))
	require.Equal(t, cfg, &parsed)
	require.Equal(t, str, parsed.String())

	// Absent keys keep their value.
	require.NoError(t, parsed.Parse("[Compaction]\n  max_level=4\n  ; a comment\n"))
	require.Equal(t, 4, parsed.MaxLevel)
	require.Equal(t, cfg.TargetFileSizeBase, parsed.TargetFileSizeBase)
}

func TestCompactionConfigParseErrors(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"[Options]\n  max_level=4\n", `unknown section: Options`},
		{"[Compaction]\n  max_levels=4\n", `unknown option: Compaction.max_levels`},
		{"[Compaction]\n  max_level=four\n", `invalid value for max_level`},
		{"[Compaction]\n  compaction_mode=sorted\n", `invalid value for compaction_mode`},
		{"[Compaction]\n  max_level\n", `invalid key=value syntax`},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			var cfg CompactionConfig
			err := cfg.Parse(c.input)
			require.Error(t, err)
			require.Regexp(t, c.expected, err.Error())
		})
	}

	var cfg CompactionConfig
	err := cfg.Parse("[Compaction]\n  max_level\n")
	require.True(t, errors.Is(err, base.ErrCorruption))
}

func TestCompactionConfigValidate(t *testing.T) {
	testCases := []struct {
		options  string
		expected string
	}{
		{``, ``},
		{`
[Compaction]
  max_bytes_for_level_multiplier=1
`,
			`MaxBytesForLevelMultiplier \(1\) must be >= 2`,
		},
		{`
[Compaction]
  max_bytes_for_level_base=4
  max_bytes_for_level_multiplier=10
`,
			`MaxBytesForLevelBase .* must be >= MaxBytesForLevelMultiplier \(10\)`,
		},
		{`
[Compaction]
  level0_tier_compact_file_number=20
  level0_max_compact_file_number=10
`,
			`Level0MaxCompactFileNumber \(10\) must be >= Level0TierCompactFileNumber \(20\)`,
		},
		{`
[Compaction]
  compression_algorithm=None,Lz4
`,
			`CompressionAlgorithm has 2 entries, expected MaxLevel\+1 \(7\)`,
		},
		{`
[Compaction]
  compression_algorithm=None,None,None,Lz4,Lz4,Zstd,Snappy
`,
			`CompressionAlgorithm\[6\]: unknown compression algorithm "Snappy"`,
		},
		{`
[Compaction]
  tombstone_reclaim_ratio=150
`,
			`TombstoneReclaimRatio \(150\) must be <= 100`,
		},
		{`
[Compaction]
  target_file_size_base=2
  level0_sub_level_compact_level_count=1
`,
			`(?s)TargetFileSizeBase \(2\) must be >= 4.*Level0SubLevelCompactLevelCount \(1\) must be >= 2`,
		},
	}

	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			cfg := DefaultCompactionConfig()
			require.NoError(t, cfg.Parse(c.options))
			err := cfg.Validate()
			if c.expected == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Regexp(t, c.expected, err.Error())
			}
		})
	}
}

func TestLoadCompactionConfig(t *testing.T) {
	cfg, err := LoadCompactionConfig(strings.NewReader(`
max_level: 4
max_bytes_for_level_base: 1048576
compaction_mode: range
split_by_state_table: true
`))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxLevel)
	require.Equal(t, uint64(1<<20), cfg.MaxBytesForLevelBase)
	require.True(t, cfg.SplitByStateTable)
	require.True(t, cfg.EnableEmergencyPicker)
	require.Equal(t, CompactionModeRange, cfg.CompactionMode)
	// The compression list follows the number of levels.
	require.Equal(t, []string{"None", "Lz4", "Lz4", "Zstd", "Zstd"}, cfg.CompressionAlgorithm)

	// An empty document yields the defaults.
	cfg, err = LoadCompactionConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultCompactionConfig(), cfg)

	_, err = LoadCompactionConfig(strings.NewReader("max_levels: 4\n"))
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrCorruption))

	_, err = LoadCompactionConfig(strings.NewReader("compaction_mode: sorted\n"))
	require.Error(t, err)

	_, err = LoadCompactionConfig(strings.NewReader("tombstone_reclaim_ratio: 101\n"))
	require.Error(t, err)
	require.Regexp(t, `TombstoneReclaimRatio \(101\) must be <= 100`, err.Error())
}

func TestCompactionConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.MaxSubCompaction = 8
	cfg.EnableEmergencyPicker = false
	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(out), "compaction_mode: range\n")

	loaded, err := LoadCompactionConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestCompressionAlgorithm(t *testing.T) {
	for _, name := range []string{"none", "LZ4", "Zstd"} {
		a, err := parseCompressionAlgorithm(name)
		require.NoError(t, err)
		require.True(t, strings.EqualFold(name, a.String()))
	}
	_, err := parseCompressionAlgorithm("snappy")
	require.Error(t, err)
	require.Equal(t, CompressionAlgorithm(2), CompressionZstd)
}

func TestNewCompactionGroup(t *testing.T) {
	cfg := &CompactionConfig{MaxLevel: 3}
	g, err := NewCompactionGroup(7, cfg)
	require.NoError(t, err)
	require.Equal(t, base.CompactionGroupID(7), g.ID)
	require.Len(t, g.Config.CompressionAlgorithm, 4)
	// The group owns a copy of the config.
	require.Empty(t, cfg.CompressionAlgorithm)

	_, err = NewCompactionGroup(8, &CompactionConfig{TombstoneReclaimRatio: 200})
	require.Error(t, err)
	require.Regexp(t, `compaction group 8`, err.Error())

	require.True(t, TableOption{RetentionSeconds: 1}.HasTTL())
	require.False(t, TableOption{}.HasTTL())
}
