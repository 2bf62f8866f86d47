package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/mathvm/compiler"
	"github.com/chazu/mathvm/manifest"
	"github.com/chazu/mathvm/pkg/ast"
	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/native"
	"github.com/chazu/mathvm/store"
	"github.com/chazu/mathvm/vm"
)

// project returns the manifest governing dir, or the defaults when no
// mvm.toml is found above it.
func project(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(dir)
	}
	return m, nil
}

func translateSource(data []byte, natives *native.Table) (*bytecode.Program, error) {
	top, err := ast.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return compiler.Translate(top, compiler.WithNatives(natives))
}

func translateFile(path string, natives *native.Table) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return translateSource(data, natives)
}

func loadImage(path string) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return bytecode.UnmarshalImage(data)
}

// runCommand processes `mvm run`.
func (c *cli) runCommand(ctx context.Context, args []string) error {
	fs := c.flags("run")
	trace := fs.Bool("trace", false, "log every executed instruction")
	noCache := fs.Bool("no-cache", false, "translate even when a cached image exists")
	maxFrames := fs.Int("max-frames", -1, "frame limit, 0 for none (default from mvm.toml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mvm run [-trace] [-no-cache] [-max-frames n] file.yaml")
	}
	path := fs.Arg(0)

	m, err := project(filepath.Dir(path))
	if err != nil {
		return err
	}
	prog, err := c.programFor(ctx, m, path, m.Cache.Enabled && !*noCache)
	if err != nil {
		return err
	}
	return c.execute(ctx, m, prog, *trace, *maxFrames)
}

// programFor translates the document at path, going through the cache
// when useCache is set. Cache failures are logged and bypassed.
func (c *cli) programFor(ctx context.Context, m *manifest.Manifest, path string, useCache bool) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !useCache {
		return translateSource(data, m.NativeTable())
	}

	st, err := store.Open(m.CachePath())
	if err != nil {
		log.Warningf("cache unavailable: %v", err)
		return translateSource(data, m.NativeTable())
	}
	defer st.Close()

	key := store.Key(data)
	prog, ok, err := st.Get(ctx, key)
	switch {
	case err != nil:
		log.Warningf("ignoring cached image: %v", err)
	case ok:
		log.Infof("using cached program %s for %s", key.Short(), path)
		return prog, nil
	}

	start := time.Now()
	prog, err = translateSource(data, m.NativeTable())
	if err != nil {
		return nil, err
	}
	log.Infof("translated %s in %s: %d functions, %d constants", path, time.Since(start), len(prog.Functions), len(prog.Constants))
	if _, err := st.Put(ctx, key, prog); err != nil {
		log.Warningf("cannot cache %s: %v", path, err)
	}
	return prog, nil
}

// execute runs prog with flags taking precedence over the manifest.
// A negative maxFrames means "use the manifest value".
func (c *cli) execute(ctx context.Context, m *manifest.Manifest, prog *bytecode.Program, trace bool, maxFrames int) error {
	trace = trace || m.Run.Trace
	if maxFrames < 0 {
		maxFrames = m.Run.MaxFrames
	}
	if trace && c.verbosity < 2 {
		commonlog.Configure(2, nil)
	}

	machine := vm.New(prog,
		vm.WithOutput(c.stdout),
		vm.WithNatives(m.NativeTable()),
		vm.WithTrace(trace),
		vm.WithMaxFrames(maxFrames),
	)
	start := time.Now()
	err := machine.Run(ctx)
	log.Infof("executed in %s", time.Since(start))
	return err
}

// execCommand processes `mvm exec`.
func (c *cli) execCommand(ctx context.Context, args []string) error {
	fs := c.flags("exec")
	trace := fs.Bool("trace", false, "log every executed instruction")
	maxFrames := fs.Int("max-frames", -1, "frame limit, 0 for none (default from mvm.toml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mvm exec [-trace] [-max-frames n] file.mvbc")
	}
	path := fs.Arg(0)

	prog, err := loadImage(path)
	if err != nil {
		return err
	}
	m, err := project(filepath.Dir(path))
	if err != nil {
		return err
	}
	return c.execute(ctx, m, prog, *trace, *maxFrames)
}

// disasmCommand processes `mvm disasm`. Images are recognised by their
// magic, anything else is translated first.
func (c *cli) disasmCommand(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: mvm disasm file.yaml|file.mvbc")
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	var prog *bytecode.Program
	if bytes.HasPrefix(data, bytecode.ImageMagic) {
		prog, err = bytecode.UnmarshalImage(data)
	} else {
		var m *manifest.Manifest
		if m, err = project(filepath.Dir(path)); err == nil {
			prog, err = translateSource(data, m.NativeTable())
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprint(c.stdout, bytecode.Disassemble(prog))
	return nil
}
