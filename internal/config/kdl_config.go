package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// LoadKDL loads .shrinker.kdl from projectRoot. It returns nil, nil when the
// file does not exist.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, FileName)
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadFile(kdlPath)
}

// LoadFile loads one configuration file. A relative project root resolves
// against the directory containing the file.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, shrinkerrors.NewFileError("read", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		dir = filepath.Dir(path)
	}
	cfg, err := parseKDL(string(content), dir)
	if err != nil {
		return nil, shrinkerrors.NewConfigError("file", path, err)
	}

	if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(dir, cfg.Project.Root)
	}
	cfg.Project.Root = filepath.Clean(cfg.Project.Root)
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}
	return cfg, nil
}

// parseKDL walks the KDL document over the defaults for root
func parseKDL(content, root string) (*Config, error) {
	cfg := Default(root)
	cfg.Project.Name = ""

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "project":
			for _, cn := range n.Children { // project { root "." name "app" }
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "inputs":
			parseInputs(cfg, n)
		case "shrink":
			parseShrink(cfg, n)
		case "metrics":
			for _, cn := range n.Children {
				assignSimpleString(cn, "textfile", func(v string) { cfg.Metrics.Textfile = v })
			}
		case "watch":
			for _, cn := range n.Children {
				if nodeName(cn) == "debounce_ms" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				}
			}
		case "neo4j":
			for _, cn := range n.Children {
				assignSimpleString(cn, "uri", func(v string) { cfg.Neo4j.URI = v })
				assignSimpleString(cn, "user", func(v string) { cfg.Neo4j.User = v })
				assignSimpleString(cn, "password", func(v string) { cfg.Neo4j.Password = v })
				if nodeName(cn) == "batch_size" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Neo4j.BatchSize = v
					}
				}
			}
		default:
			log.Printf("WARNING: unknown section '%s' in KDL config", nodeName(n))
		}
	}
	return cfg, nil
}

// parseInputs reads
//
//	inputs {
//	    program "build/classes" output="build/shrunk"
//	    library "/opt/sdk/android.jar"
//	    manifest "build/shrinker-inputs.toml"
//	    include "com/example/**"
//	    exclude "META-INF/**"
//	}
func parseInputs(cfg *Config, n *document.Node) {
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "program":
			for _, path := range collectStringArgs(cn) {
				out, _ := propString(cn, "output")
				cfg.Inputs.Program = append(cfg.Inputs.Program, ProgramInput{Path: path, Output: out})
			}
		case "library":
			cfg.Inputs.Library = append(cfg.Inputs.Library, collectStringArgs(cn)...)
		case "manifest":
			if s, ok := firstStringArg(cn); ok {
				cfg.Inputs.Manifest = s
			}
		case "include":
			cfg.Inputs.Include = append(cfg.Inputs.Include, collectStringArgs(cn)...)
		case "exclude":
			cfg.Inputs.Exclude = append(cfg.Inputs.Exclude, collectStringArgs(cn)...)
		}
	}
}

func parseShrink(cfg *Config, n *document.Node) {
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "keep_rules":
			cfg.Shrink.KeepRules = append(cfg.Shrink.KeepRules, collectStringArgs(cn)...)
		case "main_dex_rules":
			cfg.Shrink.MainDexRules = append(cfg.Shrink.MainDexRules, collectStringArgs(cn)...)
		case "external_packages":
			cfg.Shrink.ExternalPackages = append(cfg.Shrink.ExternalPackages, collectStringArgs(cn)...)
		case "state_dir":
			if s, ok := firstStringArg(cn); ok {
				cfg.Shrink.StateDir = s
			}
		case "workers":
			if v, ok := firstIntArg(cn); ok {
				cfg.Shrink.Workers = v
			}
		case "resolver_cache_size":
			if v, ok := firstIntArg(cn); ok {
				cfg.Shrink.ResolverCacheSize = v
			}
		}
	}
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func propString(n *document.Node, key string) (string, bool) {
	if n.Properties == nil {
		return "", false
	}
	if v, ok := n.Properties[key]; ok {
		if s, ok2 := v.Value.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// collectStringArgs accepts both the inline form (exclude "a" "b") and the
// block form (exclude { "a"; "b" })
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// In KDL block format, strings are child nodes where the node name is the string value
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
