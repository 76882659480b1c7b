// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/overlap"
	"gopkg.in/yaml.v3"
)

// CompactionMode selects how sstable overlap is computed.
type CompactionMode = overlap.Mode

// Supported compaction modes.
const (
	CompactionModeUnspecified = overlap.ModeUnspecified
	CompactionModeRange       = overlap.ModeRange
)

// Compression algorithm names accepted in CompactionConfig.CompressionAlgorithm.
const (
	CompressionNameNone = "None"
	CompressionNameLz4  = "Lz4"
	CompressionNameZstd = "Zstd"
)

// Default configuration values.
const (
	defaultMaxBytesForLevelBase                       = 512 << 20
	defaultMaxBytesForLevelMultiplier                 = 5
	defaultMaxLevel                                   = 6
	defaultMaxCompactionBytes                         = 2 << 30
	defaultSubLevelMaxCompactionBytes                 = 128 << 20
	defaultLevel0TierCompactFileNumber                = 12
	defaultLevel0SubLevelCompactLevelCount            = 3
	defaultLevel0OverlappingSubLevelCompactLevelCount = 6
	defaultLevel0MaxCompactFileNumber                 = 100
	defaultLevel0StopWriteThresholdSubLevelNumber     = 300
	defaultTargetFileSizeBase                         = 32 << 20
	defaultMaxSubCompaction                           = 4
	defaultMaxSpaceReclaimBytes                       = 512 << 20
	defaultTombstoneReclaimRatio                      = 40
)

// CompactionConfig holds the compaction parameters of one compaction group.
// The zero value is not usable; call EnsureDefaults or start from
// DefaultCompactionConfig.
type CompactionConfig struct {
	// MaxBytesForLevelBase is the size budget of the base level.
	MaxBytesForLevelBase uint64 `yaml:"max_bytes_for_level_base"`
	// MaxBytesForLevelMultiplier is the size ratio between adjacent levels.
	MaxBytesForLevelMultiplier uint64 `yaml:"max_bytes_for_level_multiplier"`
	// MaxLevel is the index of the bottommost level.
	MaxLevel int `yaml:"max_level"`
	// MaxCompactionBytes bounds the input size of a level compaction.
	MaxCompactionBytes uint64 `yaml:"max_compaction_bytes"`
	// SubLevelMaxCompactionBytes bounds the input size of an L0 compaction.
	SubLevelMaxCompactionBytes uint64 `yaml:"sub_level_max_compaction_bytes"`
	// Level0TierCompactFileNumber is the number of files in overlapping L0
	// sub-levels that triggers a tier compaction.
	Level0TierCompactFileNumber uint64 `yaml:"level0_tier_compact_file_number"`
	// Level0SubLevelCompactLevelCount is the number of non-overlapping L0
	// sub-levels that triggers an intra-L0 compaction.
	Level0SubLevelCompactLevelCount uint32 `yaml:"level0_sub_level_compact_level_count"`
	// Level0OverlappingSubLevelCompactLevelCount bounds the number of
	// overlapping sub-levels merged by a single tier compaction.
	Level0OverlappingSubLevelCompactLevelCount uint32 `yaml:"level0_overlapping_sub_level_compact_level_count"`
	// Level0MaxCompactFileNumber bounds the number of L0 files in one task.
	Level0MaxCompactFileNumber uint64 `yaml:"level0_max_compact_file_number"`
	// Level0StopWriteThresholdSubLevelNumber is the L0 depth at which writes
	// stall and the emergency picker kicks in.
	Level0StopWriteThresholdSubLevelNumber uint64 `yaml:"level0_stop_write_threshold_sub_level_number"`
	// TargetFileSizeBase is the output file size of L0 compactions; other
	// levels derive theirs from it.
	TargetFileSizeBase uint64 `yaml:"target_file_size_base"`
	// CompressionAlgorithm is indexed by level offset from the base level;
	// it has MaxLevel+1 entries.
	CompressionAlgorithm []string `yaml:"compression_algorithm"`
	// CompactionMode is parsed from the "compaction_mode" YAML key by
	// LoadCompactionConfig.
	CompactionMode       CompactionMode `yaml:"-"`
	CompactionFilterMask uint32         `yaml:"compaction_filter_mask"`
	MaxSubCompaction     uint32         `yaml:"max_sub_compaction"`
	// MaxSpaceReclaimBytes bounds the input size of space and TTL reclaim
	// tasks.
	MaxSpaceReclaimBytes uint64 `yaml:"max_space_reclaim_bytes"`
	SplitByStateTable    bool   `yaml:"split_by_state_table"`
	SplitWeightByVnode   uint32 `yaml:"split_weight_by_vnode"`
	// TombstoneReclaimRatio is the percentage of stale keys or range
	// tombstones above which an sstable is rewritten.
	TombstoneReclaimRatio uint32 `yaml:"tombstone_reclaim_ratio"`
	EnableEmergencyPicker bool   `yaml:"enable_emergency_picker"`
}

// DefaultCompactionConfig returns the default configuration.
func DefaultCompactionConfig() *CompactionConfig {
	c := &CompactionConfig{EnableEmergencyPicker: true}
	c.EnsureDefaults()
	return c
}

// EnsureDefaults ensures that the zero-valued fields are set to their
// defaults. Boolean fields are left untouched.
func (c *CompactionConfig) EnsureDefaults() *CompactionConfig {
	if c.MaxBytesForLevelBase == 0 {
		c.MaxBytesForLevelBase = defaultMaxBytesForLevelBase
	}
	if c.MaxBytesForLevelMultiplier == 0 {
		c.MaxBytesForLevelMultiplier = defaultMaxBytesForLevelMultiplier
	}
	if c.MaxLevel == 0 {
		c.MaxLevel = defaultMaxLevel
	}
	if c.MaxCompactionBytes == 0 {
		c.MaxCompactionBytes = defaultMaxCompactionBytes
	}
	if c.SubLevelMaxCompactionBytes == 0 {
		c.SubLevelMaxCompactionBytes = defaultSubLevelMaxCompactionBytes
	}
	if c.Level0TierCompactFileNumber == 0 {
		c.Level0TierCompactFileNumber = defaultLevel0TierCompactFileNumber
	}
	if c.Level0SubLevelCompactLevelCount == 0 {
		c.Level0SubLevelCompactLevelCount = defaultLevel0SubLevelCompactLevelCount
	}
	if c.Level0OverlappingSubLevelCompactLevelCount == 0 {
		c.Level0OverlappingSubLevelCompactLevelCount = defaultLevel0OverlappingSubLevelCompactLevelCount
	}
	if c.Level0MaxCompactFileNumber == 0 {
		c.Level0MaxCompactFileNumber = defaultLevel0MaxCompactFileNumber
	}
	if c.Level0StopWriteThresholdSubLevelNumber == 0 {
		c.Level0StopWriteThresholdSubLevelNumber = defaultLevel0StopWriteThresholdSubLevelNumber
	}
	if c.TargetFileSizeBase == 0 {
		c.TargetFileSizeBase = defaultTargetFileSizeBase
	}
	if len(c.CompressionAlgorithm) == 0 {
		c.CompressionAlgorithm = defaultCompressionAlgorithm(c.MaxLevel)
	}
	if c.CompactionMode == CompactionModeUnspecified {
		c.CompactionMode = CompactionModeRange
	}
	if c.MaxSubCompaction == 0 {
		c.MaxSubCompaction = defaultMaxSubCompaction
	}
	if c.MaxSpaceReclaimBytes == 0 {
		c.MaxSpaceReclaimBytes = defaultMaxSpaceReclaimBytes
	}
	if c.TombstoneReclaimRatio == 0 {
		c.TombstoneReclaimRatio = defaultTombstoneReclaimRatio
	}
	return c
}

// defaultCompressionAlgorithm leaves the top levels uncompressed, uses Lz4 in
// the middle and Zstd for the bottom two levels.
func defaultCompressionAlgorithm(maxLevel int) []string {
	res := make([]string, maxLevel+1)
	for i := range res {
		switch {
		case i >= maxLevel-1 && i > 0:
			res[i] = CompressionNameZstd
		case i >= maxLevel-3 && i > 0:
			res[i] = CompressionNameLz4
		default:
			res[i] = CompressionNameNone
		}
	}
	return res
}

// Clone creates a deep copy of the config.
func (c *CompactionConfig) Clone() *CompactionConfig {
	n := *c
	n.CompressionAlgorithm = slices.Clone(c.CompressionAlgorithm)
	return &n
}

// Validate verifies that the config is self-consistent. It assumes
// EnsureDefaults has been called and reports all violations at once.
func (c *CompactionConfig) Validate() error {
	var buf strings.Builder
	if c.MaxLevel < 1 {
		fmt.Fprintf(&buf, "MaxLevel (%d) must be >= 1\n", c.MaxLevel)
	}
	if c.MaxBytesForLevelMultiplier < 2 {
		fmt.Fprintf(&buf, "MaxBytesForLevelMultiplier (%d) must be >= 2\n", c.MaxBytesForLevelMultiplier)
	}
	if c.MaxBytesForLevelBase < c.MaxBytesForLevelMultiplier {
		fmt.Fprintf(&buf, "MaxBytesForLevelBase (%s) must be >= MaxBytesForLevelMultiplier (%d)\n",
			crhumanize.Bytes(c.MaxBytesForLevelBase), c.MaxBytesForLevelMultiplier)
	}
	if c.TargetFileSizeBase < 4 {
		fmt.Fprintf(&buf, "TargetFileSizeBase (%d) must be >= 4\n", c.TargetFileSizeBase)
	}
	if c.Level0TierCompactFileNumber < 2 {
		fmt.Fprintf(&buf, "Level0TierCompactFileNumber (%d) must be >= 2\n", c.Level0TierCompactFileNumber)
	}
	if c.Level0SubLevelCompactLevelCount < 2 {
		fmt.Fprintf(&buf, "Level0SubLevelCompactLevelCount (%d) must be >= 2\n", c.Level0SubLevelCompactLevelCount)
	}
	if c.Level0MaxCompactFileNumber < c.Level0TierCompactFileNumber {
		fmt.Fprintf(&buf, "Level0MaxCompactFileNumber (%d) must be >= Level0TierCompactFileNumber (%d)\n",
			c.Level0MaxCompactFileNumber, c.Level0TierCompactFileNumber)
	}
	if c.MaxLevel >= 1 && len(c.CompressionAlgorithm) != c.MaxLevel+1 {
		fmt.Fprintf(&buf, "CompressionAlgorithm has %d entries, expected MaxLevel+1 (%d)\n",
			len(c.CompressionAlgorithm), c.MaxLevel+1)
	}
	for i, name := range c.CompressionAlgorithm {
		if _, err := parseCompressionAlgorithm(name); err != nil {
			fmt.Fprintf(&buf, "CompressionAlgorithm[%d]: %v\n", i, err)
		}
	}
	if c.CompactionMode == CompactionModeUnspecified {
		fmt.Fprintf(&buf, "CompactionMode must be specified\n")
	}
	if c.TombstoneReclaimRatio > 100 {
		fmt.Fprintf(&buf, "TombstoneReclaimRatio (%d) must be <= 100\n", c.TombstoneReclaimRatio)
	}
	if c.MaxSpaceReclaimBytes == 0 {
		fmt.Fprintf(&buf, "MaxSpaceReclaimBytes must be > 0\n")
	}

	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

// String returns the config in the INI format accepted by Parse.
func (c *CompactionConfig) String() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "[Compaction]\n")
	fmt.Fprintf(&buf, "  compaction_filter_mask=%d\n", c.CompactionFilterMask)
	fmt.Fprintf(&buf, "  compaction_mode=%s\n", c.CompactionMode)
	fmt.Fprintf(&buf, "  compression_algorithm=%s\n", strings.Join(c.CompressionAlgorithm, ","))
	fmt.Fprintf(&buf, "  enable_emergency_picker=%t\n", c.EnableEmergencyPicker)
	fmt.Fprintf(&buf, "  level0_max_compact_file_number=%d\n", c.Level0MaxCompactFileNumber)
	fmt.Fprintf(&buf, "  level0_overlapping_sub_level_compact_level_count=%d\n", c.Level0OverlappingSubLevelCompactLevelCount)
	fmt.Fprintf(&buf, "  level0_stop_write_threshold_sub_level_number=%d\n", c.Level0StopWriteThresholdSubLevelNumber)
	fmt.Fprintf(&buf, "  level0_sub_level_compact_level_count=%d\n", c.Level0SubLevelCompactLevelCount)
	fmt.Fprintf(&buf, "  level0_tier_compact_file_number=%d\n", c.Level0TierCompactFileNumber)
	fmt.Fprintf(&buf, "  max_bytes_for_level_base=%d\n", c.MaxBytesForLevelBase)
	fmt.Fprintf(&buf, "  max_bytes_for_level_multiplier=%d\n", c.MaxBytesForLevelMultiplier)
	fmt.Fprintf(&buf, "  max_compaction_bytes=%d\n", c.MaxCompactionBytes)
	fmt.Fprintf(&buf, "  max_level=%d\n", c.MaxLevel)
	fmt.Fprintf(&buf, "  max_space_reclaim_bytes=%d\n", c.MaxSpaceReclaimBytes)
	fmt.Fprintf(&buf, "  max_sub_compaction=%d\n", c.MaxSubCompaction)
	fmt.Fprintf(&buf, "  split_by_state_table=%t\n", c.SplitByStateTable)
	fmt.Fprintf(&buf, "  split_weight_by_vnode=%d\n", c.SplitWeightByVnode)
	fmt.Fprintf(&buf, "  sub_level_max_compaction_bytes=%d\n", c.SubLevelMaxCompactionBytes)
	fmt.Fprintf(&buf, "  target_file_size_base=%d\n", c.TargetFileSizeBase)
	fmt.Fprintf(&buf, "  tombstone_reclaim_ratio=%d\n", c.TombstoneReclaimRatio)

	return buf.String()
}

type parseOptionsFuncs struct {
	visitNewSection func(section string) error
	visitKeyValue   func(section, key, value string) error
}

// parseOptions takes a config serialized by CompactionConfig.String() and
// parses it into keys and values. It calls fns.visitNewSection for the
// beginning of each new section and fns.visitKeyValue for each key-value pair.
func parseOptions(s string, fns parseOptionsFuncs) error {
	var section string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			// Skip blank lines and comments.
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			if fns.visitNewSection != nil {
				if err := fns.visitNewSection(section); err != nil {
					return err
				}
			}
			continue
		}

		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return base.CorruptionErrorf("invalid key=value syntax: %q", errors.Safe(line))
		}

		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])
		if fns.visitKeyValue != nil {
			if err := fns.visitKeyValue(section, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse parses the config from the specified string. Keys that are absent
// keep their current value.
func (c *CompactionConfig) Parse(s string) error {
	visitKeyValue := func(section, key, value string) error {
		if section != "Compaction" {
			return errors.Errorf("hummock: unknown section: %s", errors.Safe(section))
		}
		var err error
		parseUint64 := func(dst *uint64) {
			*dst, err = strconv.ParseUint(value, 10, 64)
		}
		parseUint32 := func(dst *uint32) {
			var v uint64
			v, err = strconv.ParseUint(value, 10, 32)
			*dst = uint32(v)
		}
		switch key {
		case "compaction_filter_mask":
			parseUint32(&c.CompactionFilterMask)
		case "compaction_mode":
			c.CompactionMode, err = overlap.ParseMode(value)
		case "compression_algorithm":
			c.CompressionAlgorithm = nil
			if value != "" {
				c.CompressionAlgorithm = strings.Split(value, ",")
			}
		case "enable_emergency_picker":
			c.EnableEmergencyPicker, err = strconv.ParseBool(value)
		case "level0_max_compact_file_number":
			parseUint64(&c.Level0MaxCompactFileNumber)
		case "level0_overlapping_sub_level_compact_level_count":
			parseUint32(&c.Level0OverlappingSubLevelCompactLevelCount)
		case "level0_stop_write_threshold_sub_level_number":
			parseUint64(&c.Level0StopWriteThresholdSubLevelNumber)
		case "level0_sub_level_compact_level_count":
			parseUint32(&c.Level0SubLevelCompactLevelCount)
		case "level0_tier_compact_file_number":
			parseUint64(&c.Level0TierCompactFileNumber)
		case "max_bytes_for_level_base":
			parseUint64(&c.MaxBytesForLevelBase)
		case "max_bytes_for_level_multiplier":
			parseUint64(&c.MaxBytesForLevelMultiplier)
		case "max_compaction_bytes":
			parseUint64(&c.MaxCompactionBytes)
		case "max_level":
			c.MaxLevel, err = strconv.Atoi(value)
		case "max_space_reclaim_bytes":
			parseUint64(&c.MaxSpaceReclaimBytes)
		case "max_sub_compaction":
			parseUint32(&c.MaxSubCompaction)
		case "split_by_state_table":
			c.SplitByStateTable, err = strconv.ParseBool(value)
		case "split_weight_by_vnode":
			parseUint32(&c.SplitWeightByVnode)
		case "sub_level_max_compaction_bytes":
			parseUint64(&c.SubLevelMaxCompactionBytes)
		case "target_file_size_base":
			parseUint64(&c.TargetFileSizeBase)
		case "tombstone_reclaim_ratio":
			parseUint32(&c.TombstoneReclaimRatio)
		default:
			return errors.Errorf("hummock: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		return errors.Wrapf(err, "hummock: invalid value for %s", errors.Safe(key))
	}
	return parseOptions(s, parseOptionsFuncs{
		visitKeyValue: visitKeyValue,
	})
}

// compactionConfigYAML is the YAML document shape of a CompactionConfig.
type compactionConfigYAML struct {
	CompactionConfig `yaml:",inline"`
	CompactionMode   string `yaml:"compaction_mode"`
}

// LoadCompactionConfig reads a YAML document. Keys that are absent keep
// their default value; unknown keys are an error.
func LoadCompactionConfig(r io.Reader) (*CompactionConfig, error) {
	doc := compactionConfigYAML{CompactionConfig: *DefaultCompactionConfig()}
	// The default compression list depends on max_level.
	doc.CompressionAlgorithm = nil
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, base.MarkCorruptionError(errors.Wrap(err, "hummock: parsing compaction config"))
	}
	cfg := &doc.CompactionConfig
	if doc.CompactionMode != "" {
		mode, err := overlap.ParseMode(doc.CompactionMode)
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		cfg.CompactionMode = mode
	}
	if len(cfg.CompressionAlgorithm) == 0 {
		cfg.CompressionAlgorithm = defaultCompressionAlgorithm(cfg.MaxLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MarshalYAML renders the config in the format read by LoadCompactionConfig.
func (c *CompactionConfig) MarshalYAML() (interface{}, error) {
	type plain CompactionConfig
	return struct {
		plain          `yaml:",inline"`
		CompactionMode string `yaml:"compaction_mode"`
	}{plain(*c), c.CompactionMode.String()}, nil
}

// CompressionAlgorithm identifies the block compression of compaction output.
type CompressionAlgorithm uint32

// Compression algorithms, with their wire values.
const (
	CompressionNone CompressionAlgorithm = 0
	CompressionLz4  CompressionAlgorithm = 1
	CompressionZstd CompressionAlgorithm = 2
)

func (a CompressionAlgorithm) String() string {
	switch a {
	case CompressionLz4:
		return CompressionNameLz4
	case CompressionZstd:
		return CompressionNameZstd
	default:
		return CompressionNameNone
	}
}

// SafeValue implements redact.SafeValue.
func (CompressionAlgorithm) SafeValue() {}

func parseCompressionAlgorithm(name string) (CompressionAlgorithm, error) {
	switch strings.ToLower(name) {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLz4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, errors.Newf("unknown compression algorithm %q", name)
}

// TableOption is the catalog's per-table configuration consumed by the
// planner.
type TableOption struct {
	// RetentionSeconds is the TTL of the table's data; zero means the data
	// never expires.
	RetentionSeconds uint32
}

// HasTTL returns true if the table's data expires.
func (o TableOption) HasTTL() bool {
	return o.RetentionSeconds > 0
}

// CompactionGroup is a partition of the key space with its own config.
type CompactionGroup struct {
	ID     base.CompactionGroupID
	Config *CompactionConfig
}

// NewCompactionGroup returns a group using a validated copy of cfg.
func NewCompactionGroup(id base.CompactionGroupID, cfg *CompactionConfig) (*CompactionGroup, error) {
	cfg = cfg.Clone().EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "compaction group %d", id)
	}
	return &CompactionGroup{ID: id, Config: cfg}, nil
}
