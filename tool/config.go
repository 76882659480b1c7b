// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configT implements the config tool.
type configT struct {
	Root *cobra.Command

	flags  configFlags
	format string
}

func newConfig() *configT {
	c := &configT{}
	c.Root = &cobra.Command{
		Use:   "config",
		Short: "print the effective compaction config",
		Long: `
Print the compaction config obtained by applying --config, --max-level and
--set to the defaults. The config is validated first.
`,
		Args: cobra.NoArgs,
		Run:  c.run,
	}
	c.flags.register(c.Root)
	c.Root.Flags().StringVar(&c.format, "format", "ini", "output format: ini or yaml")
	return c
}

func (c *configT) run(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.OutOrStderr()
	cfg, err := c.flags.load()
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", strings.TrimSpace(err.Error()))
		return
	}
	switch c.format {
	case "ini":
		fmt.Fprint(stdout, cfg.String())
	case "yaml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			return
		}
		fmt.Fprint(stdout, string(out))
	default:
		fmt.Fprintf(stderr, "%s\n", errors.Newf("unknown format %q", c.format))
	}
}
