// Package config defines the configuration record shape the external
// loader must yield (the loader itself is out of scope for this repo) and
// the receipt-selection logic used to decide whether a crashing process
// should be dumped at all.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kraj/minicoredumper/internal/errkind"
)

// Config is the top-level configuration record. A real deployment loads
// this from JSON/YAML via an external loader; this package only defines
// the shape and validates it, the way bobbydeveaux's internal/config
// defines shape+validation independent of transport.
type Config struct {
	BaseDir string `yaml:"base_dir"`

	DumpScope int `yaml:"dump_scope"`

	WriteDebugLog bool `yaml:"write_debug_log"`
	WriteProcInfo bool `yaml:"write_proc_info"`
	DumpFatCore   bool `yaml:"dump_fat_core"`
	DumpAuxvSoList bool `yaml:"dump_auxv_so_list"`
	DumpPthreadList bool `yaml:"dump_pthread_list"`
	DumpRobustMutexList bool `yaml:"dump_robust_mutex_list"`

	LiveDumper bool `yaml:"live_dumper"`

	Stack StackConfig `yaml:"stack"`
	Maps  MapsConfig  `yaml:"maps"`

	Buffers []BufferSpec `yaml:"buffers"`

	Receipts []Receipt `yaml:"receipts"`
}

// StackConfig controls the thread-stack capture component (§4.6).
type StackConfig struct {
	DumpStacks      bool   `yaml:"dump_stacks"`
	FirstThreadOnly bool   `yaml:"first_thread_only"`
	MaxStackSize    uint64 `yaml:"max_stack_size"`
}

// MapsConfig controls the named-mapping dumper (§4.11).
type MapsConfig struct {
	NameGlobs []string `yaml:"name_globs"`
}

// BufferSpec describes one application-registered "interesting buffer"
// (§4.10): a fixed-size or pointer-followed region anchored at a symbol.
type BufferSpec struct {
	SymName   string `yaml:"symname"`
	DataLen   uint64 `yaml:"data_len"`
	FollowPtr bool   `yaml:"follow_ptr"`
}

// Receipt selects which processes get dumped, matched against the
// crashing process's comm and executable path.
type Receipt struct {
	Comm string `yaml:"comm"`
	Exe  string `yaml:"exe"`
}

// ErrNoReceipt is returned by Resolve when no receipt matches (comm, exe).
// Per §3 this is a clean no-op: the caller exits 0 without creating an
// output directory.
var ErrNoReceipt = errors.New("config: no receipt matches comm/exe")

// Resolve finds the receipt matching comm and exe. An empty Receipts list
// matches everything (no receipt filtering configured) by convention.
func (c *Config) Resolve(comm, exe string) (*Receipt, error) {
	if len(c.Receipts) == 0 {
		return &Receipt{Comm: comm, Exe: exe}, nil
	}
	for i := range c.Receipts {
		r := &c.Receipts[i]
		if (r.Comm == "" || r.Comm == comm) && (r.Exe == "" || r.Exe == exe) {
			return r, nil
		}
	}
	return nil, ErrNoReceipt
}

// ApplyDefaults fills zero-value optional fields with sensible defaults,
// mirroring bobbydeveaux's config.applyDefaults free-function pattern.
func ApplyDefaults(c *Config) {
	if c.DumpScope == 0 {
		c.DumpScope = 1
	}
}

// Validate checks required fields, joining every failure the way
// bobbydeveaux's config.validate does with errors.Join.
func Validate(c *Config) error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	for i, b := range c.Buffers {
		if b.SymName == "" {
			errs = append(errs, fmt.Errorf("buffers[%d]: symname is required", i))
		}
	}
	return errors.Join(errs...)
}

// Load reads and validates a Config from a YAML file at path. The real
// deployment's loader (out of scope per spec.md §1) may use a richer
// format (JSON, with hot-reload); this is provided so tests and the
// reference CLI have a concrete, working loader against the documented
// shape.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, errkind.Wrap(errkind.ErrConfigInvalid, fmt.Errorf("config: validation failed for %q: %w", path, err))
	}
	return &cfg, nil
}
