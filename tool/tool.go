// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// T is the container for all of the introspection tools.
type T struct {
	Commands []*cobra.Command
	config   *configT
	plan     *planT
	simulate *simulateT
}

// New creates a new introspection tool.
func New() *T {
	t := &T{
		config:   newConfig(),
		plan:     newPlan(),
		simulate: newSimulate(),
	}
	t.Commands = []*cobra.Command{
		t.config.Root,
		t.plan.Root,
		t.simulate.Root,
	}
	return t
}

// configFlags are the flags shared by every command that needs a compaction
// config.
type configFlags struct {
	path     string
	maxLevel int
	set      []string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "config", "", "YAML compaction config (defaults if unset)")
	cmd.Flags().IntVar(&f.maxLevel, "max-level", 0, "override the number of levels below L0")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "override a config option, as key=value (repeatable)")
}

// load reads the config file, then applies the overrides. The compression
// list is recomputed when the number of levels changes.
func (f *configFlags) load() (*hummock.CompactionConfig, error) {
	cfg := hummock.DefaultCompactionConfig()
	if f.path != "" {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if cfg, err = hummock.LoadCompactionConfig(file); err != nil {
			return nil, errors.Wrapf(err, "%s", f.path)
		}
	}
	if f.maxLevel > 0 && f.maxLevel != cfg.MaxLevel {
		cfg.MaxLevel = f.maxLevel
		cfg.CompressionAlgorithm = nil
	}
	if len(f.set) > 0 {
		var buf strings.Builder
		buf.WriteString("[Compaction]\n")
		for _, kv := range f.set {
			buf.WriteString(kv)
			buf.WriteString("\n")
		}
		if err := cfg.Parse(buf.String()); err != nil {
			return nil, err
		}
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLayout reads a layout in the text format of manifest.ParseLevels.
func loadLayout(
	path string, groupID base.CompactionGroupID, maxLevel int,
) (*manifest.Levels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	levels, err := manifest.ParseLevels(groupID, maxLevel, string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return levels, nil
}

// zapLogger adapts a zap logger to base.Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

var _ base.Logger = zapLogger{}

func newZapLogger(w io.Writer) zapLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zap.InfoLevel)
	return zapLogger{s: zap.New(core).Sugar()}
}

func (l zapLogger) Infof(format string, args ...interface{}) {
	l.s.Infof(format, args...)
}

func (l zapLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(format, args...)
}

func (l zapLogger) Fatalf(format string, args ...interface{}) {
	l.s.Fatalf(format, args...)
}

// logger returns a zap logger writing to w when verbose is set.
func logger(verbose bool, w io.Writer) base.Logger {
	if !verbose {
		return base.NoopLogger{}
	}
	return newZapLogger(w)
}
