// Package manifest handles mvm.toml project configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/mathvm/pkg/native"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "mvm.toml"

// DefaultCachePath is the cache location relative to the manifest directory.
const DefaultCachePath = ".mvm/cache.db"

//go:embed schema.cue
var schemaSource string

// Manifest represents an mvm.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Run     RunConfig     `toml:"run"`
	Cache   CacheConfig   `toml:"cache"`
	Natives NativesConfig `toml:"natives"`

	// Dir is the directory containing the mvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// RunConfig holds VM defaults. Command line flags override them.
type RunConfig struct {
	Trace     bool `toml:"trace"`
	MaxFrames int  `toml:"max-frames"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// NativesConfig restricts the natives programs may bind.
type NativesConfig struct {
	Disabled []string `toml:"disabled"`
}

// Default returns the configuration used when dir has no manifest.
func Default(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m := defaults()
	m.Dir = abs
	return &m, nil
}

func defaults() Manifest {
	return Manifest{Cache: CacheConfig{Enabled: true, Path: DefaultCachePath}}
}

// Load parses the mvm.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	m := defaults()
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	builtins := native.Builtins()
	for _, name := range m.Natives.Disabled {
		if _, ok := builtins.Resolve(name); !ok {
			return nil, fmt.Errorf("invalid %s: natives.disabled names unknown native %q", path, name)
		}
	}

	return &m, nil
}

// validate checks the decoded document against the embedded schema.
func validate(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return err
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return err
	}
	return schema.LookupPath(cue.ParsePath("#Manifest")).Unify(doc).Validate(cue.Concrete(true))
}

// FindAndLoad walks up from startDir to find an mvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// NativeTable returns the builtin natives minus the disabled ones.
func (m *Manifest) NativeTable() *native.Table {
	if len(m.Natives.Disabled) == 0 {
		return native.Builtins()
	}
	return native.Builtins().Without(m.Natives.Disabled...)
}
