package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/perfshard/perf"
	"github.com/perfgo/perfshard/scheduler"
)

const AppName = "perfshard"

const defaultOutputDir = ".perfshard/out"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run test units in parallel across devices and local workers",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Partition test units over the available resources and run them",
		Action: app.run,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Test configuration file (YAML or JSON)",
				Required: true,
			},
			outputDirFlag(),
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Keep results of a previous run in the output directory and append to them",
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum number of attempts per unit",
				Value: scheduler.DefaultMaxRetries,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Time to wait between attempts of a unit",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of units that do not set their own",
				Value: scheduler.DefaultTimeout,
			},
			&cli.DurationFlag{
				Name:  "deadline",
				Usage: "Deadline of the whole run (0 for none); unfinished units are reported incomplete",
			},
			&cli.StringFlag{
				Name:  "blacklist-file",
				Usage: "JSON file of resources to skip; resources that fail to recover are added to it",
			},
			&cli.StringFlag{
				Name:  "flaky-steps",
				Usage: "File listing units whose failures are reported as flaky",
			},
			&cli.IntFlag{
				Name:  "max-failures",
				Usage: "Stop scheduling units after this many failed attempts (0 for no cap)",
			},
			&cli.Float64Flag{
				Name:  "failure-ratio",
				Usage: "Stop scheduling units once this share of all possible attempts failed (0 to disable)",
			},
			&cli.IntFlag{
				Name:  "shard-index",
				Usage: "Run only this slice of the units (with --total-shards)",
			},
			&cli.IntFlag{
				Name:  "total-shards",
				Usage: "Number of slices the units are split into across invocations",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write run metrics in the node exporter textfile format",
			},
			perf.StatEventFlag(),
			perf.StatDetailFlag(),
		}, resourceFlags()...),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List persisted unit results, failures first",
		Action: app.list,
		Flags: []cli.Flag{
			outputDirFlag(),
			&cli.BoolFlag{
				Name:  "failed",
				Usage: "Only list units that did not pass",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "view",
		Usage:     "Show a unit's result and every captured output",
		ArgsUsage: "[UNIT|INDEX]",
		Action:    app.view,
		Flags: []cli.Flag{
			outputDirFlag(),
			&cli.StringFlag{
				Name:  "extract-archive",
				Usage: "Write the unit's archived output directory (tar.gz) to this file",
			},
		},
		Description: `Show a unit's result and every captured output, oldest first.

Arguments:
  0           Unit that finished last (default)
  -1          Unit that finished second to last
  <name>      Unit with this name, or the only unit starting with it

Examples:
  perfshard view                 # Last finished unit
  perfshard view -- -1           # The one before
  perfshard view bench/alloc     # A unit by name`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "devices",
		Usage:  "Probe resources and print their health",
		Action: app.devices,
		Flags:  resourceFlags(),
	})
	return app
}

func outputDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output-dir",
		Aliases: []string{"o"},
		Usage:   "Directory holding the result records",
		Value:   defaultOutputDir,
	}
}

// resourceFlags select the resources units run on.
func resourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "device",
			Usage: "Device to run on: ssh:[user@]host, adb:serial or k8s:[context/]namespace/pod (can be specified multiple times)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of local subprocess workers",
		},
		&cli.StringFlag{
			Name:  "scratch-dir",
			Usage: "Local scratch directory for worker output",
		},
		&cli.StringFlag{
			Name:  "identity-file",
			Usage: "SSH identity file for ssh devices",
		},
		&cli.StringFlag{
			Name:  "known-hosts-file",
			Usage: "SSH known hosts file for ssh devices",
		},
		&cli.StringFlag{
			Name:  "proxy-command",
			Usage: "SSH ProxyCommand for ssh devices",
		},
		&cli.StringSliceFlag{
			Name:  "ssh-option",
			Usage: "Extra ssh option as Key=Value for ssh devices (can be specified multiple times)",
		},
		&cli.StringFlag{
			Name:  "kube-context",
			Usage: "Kubernetes context for k8s devices that name none",
		},
		&cli.StringFlag{
			Name:  "container",
			Usage: "Container of k8s devices",
		},
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
