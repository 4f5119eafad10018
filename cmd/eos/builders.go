// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/chroma/v2/quick"
	"golang.org/x/term"

	"github.com/phosphorescence/eos/lib/content"
)

// buildersCmd implements "eos builders".
func buildersCmd(args []string) error {
	flags := newFlagSet("builders", "List builder scripts", "builders [flags]")
	configPath := flags.String("config", "", "path to eos.yaml (default: $EOS_CONFIG)")
	show := flags.String("show", "", "print the source of this builder")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if *show != "" {
		builder, err := content.Find(*show, cfg.Paths.Builders)
		if err != nil {
			return err
		}
		return showSource(os.Stdout, builder.Source, term.IsTerminal(int(os.Stdout.Fd())))
	}

	builders, err := content.All(cfg.Paths.Builders)
	if err != nil {
		return err
	}
	return listBuilders(os.Stdout, builders)
}

// showSource prints a builder script, highlighted for a terminal.
// Starlark is close enough to Python for the Python lexer.
func showSource(w io.Writer, source []byte, terminal bool) error {
	if terminal {
		if err := quick.Highlight(w, string(source), "python", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := w.Write(source)
	return err
}

func listBuilders(w io.Writer, builders []content.Builder) error {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "NAME\tKIND\tSOURCE\tDIGEST\tHOOKS\tTITLE")
	for _, builder := range builders {
		source := "embedded"
		if !builder.Embedded() {
			source = builder.Path
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\n",
			builder.Name, builder.Kind, source, builder.Digest, strings.Join(builder.Hooks, ","), builder.Title)
	}
	return table.Flush()
}
