package config

import (
	"os"
	"path/filepath"

	"github.com/standardbeagle/shrinker/internal/inputs"
)

// FileName is the project configuration file looked up in the project root
// and in the user's home directory
const FileName = ".shrinker.kdl"

// Defaults
const (
	DefaultStateDir        = ".shrinker"
	DefaultWatchDebounceMs = 200
	DefaultNeo4jURI        = "bolt://localhost:7687"
	DefaultNeo4jUser       = "neo4j"
	DefaultNeo4jBatchSize  = 1000
)

type Config struct {
	Version int
	Project Project
	Inputs  Inputs
	Shrink  Shrink
	Metrics Metrics
	Watch   Watch
	Neo4j   Neo4j
}

type Project struct {
	Root string
	Name string
}

// ProgramInput is a program directory or jar and the directory its kept
// classes are written to. An empty Output marks the input as foreign.
type ProgramInput struct {
	Path   string
	Output string
}

type Inputs struct {
	Program  []ProgramInput
	Library  []string
	Manifest string   // optional TOML manifest written by a build tool
	Include  []string // doublestar patterns over entry paths
	Exclude  []string
}

type Shrink struct {
	KeepRules         []string // files with keep rules for the SHRINK counter set
	MainDexRules      []string // files with keep rules for the legacy multidex counter set
	ExternalPackages  []string // program classes treated as library, doublestar over internal names
	StateDir          string   // where the graph is persisted between runs
	Workers           int      // 0 = auto-detect
	ResolverCacheSize int
}

type Metrics struct {
	Textfile string // prometheus textfile written after every run; empty disables
}

type Watch struct {
	DebounceMs int
}

type Neo4j struct {
	URI       string
	User      string
	Password  string
	BatchSize int
}

// Default returns the configuration used when no file is present
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: root, Name: filepath.Base(root)},
		Shrink: Shrink{
			StateDir: DefaultStateDir,
		},
		Watch: Watch{DebounceMs: DefaultWatchDebounceMs},
		Neo4j: Neo4j{
			URI:       DefaultNeo4jURI,
			User:      DefaultNeo4jUser,
			BatchSize: DefaultNeo4jBatchSize,
		},
	}
}

func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot loads the configuration for rootDir. An explicit path wins;
// otherwise the global ~/.shrinker.kdl is merged under the project file.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}
	absDir, err := filepath.Abs(searchDir)
	if err != nil {
		absDir = searchDir
	}

	var cfg *Config
	if path != "" {
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
		return withDetectedInputs(cfg), nil
	}

	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != absDir {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	projectConfig, err := LoadKDL(absDir)
	if err != nil {
		return nil, err
	}

	switch {
	case baseConfig != nil && projectConfig != nil:
		cfg = mergeConfigs(baseConfig, projectConfig)
	case projectConfig != nil:
		cfg = projectConfig
	case baseConfig != nil:
		baseConfig.Project.Root = absDir
		baseConfig.Project.Name = filepath.Base(absDir)
		cfg = baseConfig
	default:
		cfg = Default(absDir)
	}

	return withDetectedInputs(cfg), nil
}

// withDetectedInputs fills in program inputs from the build layout when
// none are configured
func withDetectedInputs(cfg *Config) *Config {
	if len(cfg.Inputs.Program) == 0 && cfg.Inputs.Manifest == "" {
		detector := NewBuildArtifactDetector(cfg.Project.Root)
		if cfg.Inputs.Manifest = detector.DetectManifest(); cfg.Inputs.Manifest == "" {
			cfg.Inputs.Program = detector.DetectProgramInputs()
		}
	}
	return cfg
}

// mergeConfigs merges a base config with a project config.
// Project config takes precedence; base library inputs, exclusions and
// external packages are preserved.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	merged.Inputs.Library = DeduplicatePatterns(append(append([]string{}, base.Inputs.Library...), project.Inputs.Library...))
	merged.Inputs.Exclude = DeduplicatePatterns(append(append([]string{}, base.Inputs.Exclude...), project.Inputs.Exclude...))
	merged.Shrink.ExternalPackages = DeduplicatePatterns(append(append([]string{}, base.Shrink.ExternalPackages...), project.Shrink.ExternalPackages...))

	if len(project.Inputs.Include) == 0 && len(base.Inputs.Include) > 0 {
		merged.Inputs.Include = base.Inputs.Include
	}
	if project.Neo4j.Password == "" {
		merged.Neo4j.Password = base.Neo4j.Password
	}
	return &merged
}

// Path resolves p against the project root
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Project.Root, p)
}

// StatePath is the absolute state directory
func (c *Config) StatePath() string {
	return c.Path(c.Shrink.StateDir)
}

// InputList returns every configured input with absolute paths: the manifest
// inputs first, then the configured libraries and programs
func (c *Config) InputList() ([]inputs.Input, error) {
	var out []inputs.Input
	if c.Inputs.Manifest != "" {
		m, err := inputs.LoadManifest(c.Path(c.Inputs.Manifest))
		if err != nil {
			return nil, err
		}
		out = append(out, m.Inputs()...)
	}
	for _, lib := range c.Inputs.Library {
		out = append(out, inputs.Input{Path: c.Path(lib), Kind: inputs.Library})
	}
	for _, p := range c.Inputs.Program {
		out = append(out, inputs.Input{Path: c.Path(p.Path), Output: c.Path(p.Output), Kind: inputs.Program})
	}
	return out, nil
}

// Provider builds the input provider for the configured inputs
func (c *Config) Provider() (*inputs.Provider, error) {
	list, err := c.InputList()
	if err != nil {
		return nil, err
	}
	return inputs.NewProvider(list, c.Inputs.Include, c.Inputs.Exclude)
}

// DeduplicatePatterns removes duplicate entries keeping the first occurrence
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, pattern := range patterns {
		if !seen[pattern] {
			seen[pattern] = true
			result = append(result, pattern)
		}
	}

	return result
}
