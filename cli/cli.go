// Package cli wires the benchd command-line application.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/benchd/benchd/config"
	"github.com/benchd/benchd/daemon"
	"github.com/benchd/benchd/store"
	"github.com/benchd/benchd/vcs"
)

const AppName = "benchd"

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
			Usage: "Continuous performance-regression benchmarking for a compiler toolchain",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Path to the YAML configuration file",
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
		Usage:  "Run the benchmarking daemon until interrupted",
		Action: app.run,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "once",
		Usage:  "Run a single refresh-schedule-measure cycle and exit",
		Action: app.once,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "rank",
		Usage:  "Print the current commit schedule with scores and exit",
		Action: app.rank,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

// setup loads the configuration and constructs the store, version manager
// and daemon. The caller owns closing the store.
func (a *App) setup(ctx *cli.Context) (*daemon.Daemon, *store.Store, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(a.logger, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	mgr := vcs.NewGit(a.logger, cfg.RepoDir, cfg.Branch, cfg.BuildCommand, cfg.BuildOutput, cfg.ArtifactDir)
	return daemon.New(a.logger, cfg, mgr, st), st, nil
}

func (a *App) run(ctx *cli.Context) error {
	d, st, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info().Msg("Starting benchmarking daemon")
	if err := d.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Msg("Daemon stopped")
	return nil
}

func (a *App) once(ctx *cli.Context) error {
	d, st, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	commits, cached, err := d.Refresh()
	if err != nil {
		return err
	}
	for _, cand := range d.Rank(commits, cached) {
		if err := d.ProcessCommit(cand.Commit); err != nil {
			return err
		}
	}
	return d.ExportSnapshot()
}

func (a *App) rank(ctx *cli.Context) error {
	d, st, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	commits, cached, err := d.Refresh()
	if err != nil {
		return err
	}
	for i, cand := range d.Rank(commits, cached) {
		marker := " "
		if cand.Commit.BuildFailed {
			marker = "!"
		} else if cached[cand.Commit.Hash] {
			marker = "*"
		}
		fmt.Printf("%4d %s %8d  %.8s  %s\n", i+1, marker, cand.Score, cand.Commit.Hash, cand.Commit.Message)
	}
	return nil
}
