package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return shrinkerrors.NewConfigError("project", "", err)
	}
	if err := v.validateInputsConfig(&cfg.Inputs); err != nil {
		return shrinkerrors.NewConfigError("inputs", "", err)
	}
	if err := v.validateShrinkConfig(&cfg.Shrink); err != nil {
		return shrinkerrors.NewConfigError("shrink", "", err)
	}
	if cfg.Watch.DebounceMs < 0 {
		return shrinkerrors.NewConfigError("watch", "", fmt.Errorf("debounce_ms cannot be negative, got %d", cfg.Watch.DebounceMs))
	}
	if cfg.Neo4j.BatchSize < 0 {
		return shrinkerrors.NewConfigError("neo4j", "", fmt.Errorf("batch_size cannot be negative, got %d", cfg.Neo4j.BatchSize))
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	return nil
}

func (v *Validator) validateInputsConfig(in *Inputs) error {
	if len(in.Program) == 0 && in.Manifest == "" {
		return errors.New("no program inputs configured and none detected")
	}
	for _, p := range in.Program {
		if p.Path == "" {
			return errors.New("program input path cannot be empty")
		}
		if p.Output != "" && p.Output == p.Path {
			return fmt.Errorf("program input %s cannot be its own output", p.Path)
		}
	}
	if err := validatePatterns(in.Include); err != nil {
		return err
	}
	return validatePatterns(in.Exclude)
}

func (v *Validator) validateShrinkConfig(s *Shrink) error {
	if len(s.KeepRules) == 0 {
		return errors.New("at least one keep_rules file is required")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", s.Workers)
	}
	if s.ResolverCacheSize < 0 {
		return fmt.Errorf("resolver_cache_size cannot be negative, got %d", s.ResolverCacheSize)
	}
	for _, p := range s.ExternalPackages {
		if strings.Contains(p, ".") {
			return fmt.Errorf("external package %q must use internal names like com/example/**", p)
		}
	}
	return validatePatterns(s.ExternalPackages)
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// setSmartDefaults applies smart defaults based on system capabilities
func (v *Validator) setSmartDefaults(cfg *Config) {
	// cores-1 leaves headroom for the system, minimum of 1
	if cfg.Shrink.Workers == 0 {
		cfg.Shrink.Workers = max(1, runtime.NumCPU()-1)
	}
	if cfg.Shrink.StateDir == "" {
		cfg.Shrink.StateDir = DefaultStateDir
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = DefaultWatchDebounceMs
	}
	if cfg.Neo4j.BatchSize == 0 {
		cfg.Neo4j.BatchSize = DefaultNeo4jBatchSize
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
