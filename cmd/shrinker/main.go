package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/version"
)

func newApp() *cli.App {
	return &cli.App{
		Name:                   "shrinker",
		Usage:                  "Remove unreachable classes and members from JVM class files",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: <root>/.shrinker.kdl)",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "keep-rules",
				Usage: "Keep rules file, repeatable (appended to shrink.keep_rules)",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"j"},
				Usage:   "Worker goroutines per phase (0 = config or auto)",
			},
			&cli.StringFlag{
				Name:  "metrics-textfile",
				Usage: "Write prometheus metrics to this file after the run",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Show debug logging",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Log as JSON lines",
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			debug.Configure(debug.Options{Output: c.App.ErrWriter, JSON: c.Bool("log-json"), Level: level})
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "shrink",
				Usage: "Shrink the program inputs, incrementally when the saved graph allows it",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Always rebuild the graph from scratch",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"J"},
						Usage:   "Print the run summary as JSON",
					},
				},
				Action: shrinkCommand,
			},
			{
				Name:  "incremental",
				Usage: "Patch the saved graph for changed method bodies, falling back to a full shrink",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-fallback",
						Usage: "Fail instead of running a full shrink when an incremental run is impossible",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"J"},
						Usage:   "Print the run summary as JSON",
					},
				},
				Action: incrementalCommand,
			},
			{
				Name:   "watch",
				Usage:  "Shrink, then shrink again whenever program inputs change",
				Action: watchCommand,
			},
			{
				Name:  "main-dex-list",
				Usage: "Print the program classes that must be in the main dex file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the list to a file instead of stdout",
					},
				},
				Action: mainDexListCommand,
			},
			{
				Name:      "explain",
				Usage:     "Show why a class or member is kept",
				ArgsUsage: "<class | class.name:desc>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "counter-set",
						Usage: "Counter set to explain",
						Value: "SHRINK",
					},
				},
				Action: explainCommand,
			},
			{
				Name:  "export",
				Usage: "Load the saved graph into Neo4j",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "clean",
						Usage: "Remove previously exported nodes first",
					},
					&cli.StringFlag{
						Name:  "uri",
						Usage: "Neo4j URI (overrides config)",
					},
				},
				Action: exportCommand,
			},
			{
				Name:  "inputs",
				Usage: "Print the resolved inputs as a TOML manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the manifest to a file instead of stdout",
					},
				},
				Action: inputsCommand,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
