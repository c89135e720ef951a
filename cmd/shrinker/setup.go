package main

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/shrinker/internal/config"
	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/keeprules"
	"github.com/standardbeagle/shrinker/internal/metrics"
	"github.com/standardbeagle/shrinker/internal/shrink"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
	"github.com/standardbeagle/shrinker/internal/version"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadWithRoot(c.String("config"), c.String("root"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if root := c.String("root"); root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			cfg.Project.Root = abs
		}
	}
	if rules := c.StringSlice("keep-rules"); len(rules) > 0 {
		cfg.Shrink.KeepRules = config.DeduplicatePatterns(append(cfg.Shrink.KeepRules, rules...))
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Shrink.Workers = workers
	}
	if textfile := c.String("metrics-textfile"); textfile != "" {
		cfg.Metrics.Textfile = textfile
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session holds what every command against one project shares: the config,
// the open state store and the metrics registry
type session struct {
	cfg     *config.Config
	db      *storage.DB
	metrics *metrics.Metrics
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Config{
		Path:       cfg.StatePath(),
		SyncWrites: true,
		Logger:     debug.Logger(debug.ComponentStorage),
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, db: db, metrics: metrics.New()}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// options builds shrink options for one run. Rules are re-read every time so
// a long-running watch sees edits to rule files.
func (s *session) options() (shrink.Options, error) {
	provider, err := s.cfg.Provider()
	if err != nil {
		return shrink.Options{}, err
	}

	keep, err := keeprules.Load(s.paths(s.cfg.Shrink.KeepRules)...)
	if err != nil {
		return shrink.Options{}, err
	}
	rules := map[types.CounterSet]shrink.KeepRules{types.Shrink: keep}
	fingerprints := []string{keep.Fingerprint()}

	if len(s.cfg.Shrink.MainDexRules) > 0 {
		mainDex, err := keeprules.Load(s.paths(s.cfg.Shrink.MainDexRules)...)
		if err != nil {
			return shrink.Options{}, err
		}
		rules[types.LegacyMultidex] = mainDex
		fingerprints = append(fingerprints, mainDex.Fingerprint())
	}

	return shrink.Options{
		Inputs:            provider,
		Rules:             rules,
		External:          s.cfg.Shrink.ExternalPackages,
		Workers:           s.cfg.Shrink.Workers,
		DB:                s.db,
		ConfigFingerprint: configFingerprint(s.cfg, fingerprints),
		Sink:              diagnostics.NewSink(nil),
		Metrics:           s.metrics,
		ResolverCacheSize: s.cfg.Shrink.ResolverCacheSize,
	}, nil
}

func (s *session) paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = s.cfg.Path(p)
	}
	return out
}

// writeMetrics exports the registry when a textfile is configured
func (s *session) writeMetrics() error {
	if s.cfg.Metrics.Textfile == "" {
		return nil
	}
	return s.metrics.WriteTextfile(s.cfg.Path(s.cfg.Metrics.Textfile))
}

// configFingerprint identifies everything besides the inputs that shapes the
// graph. A change makes the saved graph unusable for an incremental run.
func configFingerprint(cfg *config.Config, rules []string) string {
	d := xxhash.New()
	write := func(label string, values []string) {
		_, _ = d.WriteString(label + "\x00" + strconv.Itoa(len(values)) + "\x00")
		for _, v := range values {
			_, _ = d.WriteString(v + "\x00")
		}
	}
	write("build", []string{version.BuildID()})
	write("rules", rules)
	write("external", sorted(cfg.Shrink.ExternalPackages))
	write("include", sorted(cfg.Inputs.Include))
	write("exclude", sorted(cfg.Inputs.Exclude))
	return strconv.FormatUint(d.Sum64(), 16)
}

func sorted(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}
