// Package config provides configuration loading for the daemon: YAML file
// over embedded defaults, including the benchmark program catalog.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benchd/benchd/pipeline"
	"github.com/benchd/benchd/scheduler"
)

//go:embed programs.yaml
var defaultProgramsYAML []byte

// Duration wraps time.Duration so intervals can be written as "5m" or
// "30s" in the YAML file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the daemon configuration.
type Config struct {
	// Repository the toolchain is built from
	RepoDir string `yaml:"repo_dir"`
	// Branch whose history is benchmarked
	Branch string `yaml:"branch"`
	// Build command run inside the repository
	BuildCommand []string `yaml:"build_command"`
	// Bin directory the build produces, relative to repo_dir
	BuildOutput string `yaml:"build_output"`
	// Per-commit toolchain cache directory
	ArtifactDir string `yaml:"artifact_dir"`
	// Compiler binary name, resolved through the toolchain-prefixed PATH
	Compiler string `yaml:"compiler"`
	// Scratch directory root; each program gets an exclusive subdirectory
	ScratchDir string `yaml:"scratch_dir"`
	// SQLite database path
	Database string `yaml:"database"`
	// Snapshot artifact path ("" disables the export)
	Snapshot string `yaml:"snapshot"`

	// History is refreshed at least this often
	UpdateInterval Duration `yaml:"update_interval"`
	// Sleep between cycles
	IdleInterval Duration `yaml:"idle_interval"`
	// Delay before retrying a failed repository update
	RetryDelay Duration `yaml:"retry_delay"`

	Weights  scheduler.Weights  `yaml:"weights"`
	Programs []pipeline.Program `yaml:"programs"`
}

// Default returns the stock configuration with the embedded program
// catalog.
func Default() Config {
	cfg := Config{
		RepoDir:        "toolchain",
		Branch:         "master",
		BuildCommand:   []string{"make"},
		BuildOutput:    "bin",
		ArtifactDir:    "cache",
		Compiler:       "cc",
		ScratchDir:     "scratch",
		Database:       "benchd.db",
		Snapshot:       "snapshot.json.gz",
		UpdateInterval: Duration(5 * time.Minute),
		IdleInterval:   Duration(30 * time.Second),
		RetryDelay:     Duration(time.Minute),
		Weights:        scheduler.DefaultWeights(),
	}
	if err := yaml.Unmarshal(defaultProgramsYAML, &cfg.Programs); err != nil {
		// The embedded catalog is part of the build; failing to parse it is
		// a programming error.
		panic(fmt.Sprintf("config: embedded program catalog: %v", err))
	}
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.BuildCommand) == 0 {
		return fmt.Errorf("build_command must not be empty")
	}
	if len(c.Programs) == 0 {
		return fmt.Errorf("program catalog must not be empty")
	}
	seen := make(map[string]bool, len(c.Programs))
	for _, p := range c.Programs {
		if p.ID == "" {
			return fmt.Errorf("program with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate program id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
