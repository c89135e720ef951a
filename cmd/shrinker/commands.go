package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/export"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/shrink"
	"github.com/standardbeagle/shrinker/internal/types"
	"github.com/standardbeagle/shrinker/internal/watch"
)

func shrinkCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := s.options()
	if err != nil {
		return err
	}
	run := shrink.Run
	if c.Bool("full") {
		run = shrink.Full
	}
	res, err := run(c.Context, opts)
	if err != nil {
		return err
	}
	if err := s.writeMetrics(); err != nil {
		return err
	}
	return printResult(c.App.Writer, res, c.Bool("json"))
}

func incrementalCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := s.options()
	if err != nil {
		return err
	}
	run := shrink.Run
	if c.Bool("no-fallback") {
		run = shrink.Incremental
	}
	res, err := run(c.Context, opts)
	if shrinkerrors.IsIncrementalImpossible(err) {
		return cli.Exit(fmt.Sprintf("incremental run impossible: %v", err), 2)
	}
	if err != nil {
		return err
	}
	if err := s.writeMetrics(); err != nil {
		return err
	}
	return printResult(c.App.Writer, res, c.Bool("json"))
}

func watchCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := s.options()
	if err != nil {
		return err
	}
	res, err := shrink.Run(c.Context, opts)
	if err != nil {
		return err
	}
	if err := s.writeMetrics(); err != nil {
		return err
	}
	if err := printResult(c.App.Writer, res, false); err != nil {
		return err
	}

	paths, ignore := watchTargets(opts.Inputs)
	ignore = append(ignore, s.cfg.StatePath())
	w, err := watch.New(paths, watch.Options{
		Debounce: time.Duration(s.cfg.Watch.DebounceMs) * time.Millisecond,
		Ignore:   ignore,
	}, watch.Shrink(s.options, func(res *shrink.Result) {
		_ = s.writeMetrics()
		_ = printResult(c.App.Writer, res, false)
	}))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "watching %d inputs, press Ctrl+C to stop\n", len(paths))
	return w.Run(c.Context)
}

// watchTargets lists every input path and the output directories the
// watcher must not react to
func watchTargets(p *inputs.Provider) (paths, ignore []string) {
	for _, kind := range []inputs.Kind{inputs.Library, inputs.Program} {
		for _, in := range p.Inputs(kind) {
			paths = append(paths, in.Path)
			if in.Output != "" {
				ignore = append(ignore, in.Output)
			}
		}
	}
	return paths, ignore
}

func mainDexListCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(s.cfg.Shrink.MainDexRules) == 0 {
		return cli.Exit("no main_dex_rules configured", 1)
	}
	opts, err := s.options()
	if err != nil {
		return err
	}
	res, err := shrink.Run(c.Context, opts)
	if err != nil {
		return err
	}
	if err := s.writeMetrics(); err != nil {
		return err
	}

	list := shrink.MainDexList(res.Graph)
	out := strings.Join(list, "\n")
	if len(list) > 0 {
		out += "\n"
	}
	if path := c.String("output"); path != "" {
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return shrinkerrors.NewFileError("write", path, err)
		}
		fmt.Fprintf(c.App.Writer, "wrote %d classes to %s\n", len(list), path)
		return nil
	}
	_, err = io.WriteString(c.App.Writer, out)
	return err
}

func explainCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("explain takes exactly one class or member", 1)
	}
	node, err := types.ParseNode(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := loadGraph(c, s)
	if err != nil {
		return err
	}
	steps, err := shrink.Explain(g, node, types.CounterSet(c.String("counter-set")))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = io.WriteString(c.App.Writer, shrink.FormatPath(steps))
	return err
}

func exportCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := loadGraph(c, s)
	if err != nil {
		return err
	}

	uri := s.cfg.Neo4j.URI
	if override := c.String("uri"); override != "" {
		uri = override
	}
	db, err := export.Connect(c.Context, uri, s.cfg.Neo4j.User, s.cfg.Neo4j.Password)
	if err != nil {
		return err
	}
	defer db.Close(c.Context)

	summary, err := export.Export(c.Context, db, g, export.Options{
		BatchSize: s.cfg.Neo4j.BatchSize,
		Clean:     c.Bool("clean"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "exported %d classes, %d members, %d edges to %s\n",
		summary.Classes, summary.Members, summary.Edges, uri)
	return nil
}

func loadGraph(c *cli.Context, s *session) (*graph.MemoryGraph, error) {
	ok, err := graph.HasState(c.Context, s.db)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("no saved graph in %s, run `shrinker shrink` first", s.cfg.StatePath()), 1)
	}
	g, _, err := graph.LoadState(c.Context, s.db)
	return g, err
}

func inputsCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	list, err := cfg.InputList()
	if err != nil {
		return err
	}
	data, err := inputs.ManifestOf(list).Marshal()
	if err != nil {
		return err
	}
	if path := c.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return shrinkerrors.NewFileError("write", path, err)
		}
		return nil
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func printResult(w io.Writer, res *shrink.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Stats)
	}
	_, err := io.WriteString(w, res.Stats.String())
	return err
}
