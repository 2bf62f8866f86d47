package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/mathvm/pkg/bytecode"
)

// buildCommand processes `mvm build`.
// Usage:
//
//	mvm build prog.yaml              # prog.mvbc
//	mvm build -o out.mvbc prog.yaml  # custom output
//	mvm build a.yaml b.yaml c.yaml   # translated in parallel
func (c *cli) buildCommand(ctx context.Context, args []string) error {
	fs := c.flags("build")
	output := fs.String("o", "", "output image (single input only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		return errors.New("usage: mvm build [-o out.mvbc] file.yaml...")
	}
	if *output != "" && len(inputs) > 1 {
		return errors.New("-o requires exactly one input")
	}

	type built struct {
		path      string
		size      int
		functions int
	}
	results := make([]built, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := project(filepath.Dir(in))
			if err != nil {
				return err
			}
			prog, err := translateFile(in, m.NativeTable())
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			data, err := bytecode.MarshalImage(prog)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			out := *output
			if out == "" {
				out = imagePath(in)
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("cannot write %s: %w", out, err)
			}
			log.Debugf("built %s from %s", out, in)
			results[i] = built{path: out, size: len(data), functions: len(prog.Functions)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		fmt.Fprintf(c.stdout, "%s  %s, %d functions\n", r.path, humanize.Bytes(uint64(r.size)), r.functions)
	}
	return nil
}

// imagePath replaces the extension of a document path with .mvbc.
func imagePath(doc string) string {
	return strings.TrimSuffix(doc, filepath.Ext(doc)) + ".mvbc"
}
