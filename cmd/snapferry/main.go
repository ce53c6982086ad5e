package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/backup"
	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/docker"
	"github.com/stacksnap/snapferry/internal/domain"
	"github.com/stacksnap/snapferry/internal/logging"
	"github.com/stacksnap/snapferry/internal/runner"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitCode(err))
	}
	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
		Output:    os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		logging.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error kind to the process exit status: 2 for bad
// configuration or usage, 3 when nothing matched, 1 for everything else.
func exitCode(err error) int {
	switch {
	case errors.Is(domain.KindOf(err), domain.ErrConfiguration):
		return 2
	case errors.Is(domain.KindOf(err), domain.ErrNotFound):
		return 3
	default:
		return 1
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg}

	rootCmd := &cobra.Command{
		Use:           "snapferry",
		Short:         "Back up MongoDB, MySQL and folders to FTP, SFTP or S3",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(a.mongodbCmd())
	rootCmd.AddCommand(a.mysqlCmd())
	rootCmd.AddCommand(a.folderCmd())
	rootCmd.AddCommand(a.restoreCmd())
	rootCmd.AddCommand(a.listCmd())
	rootCmd.AddCommand(a.verifyCmd())
	rootCmd.AddCommand(a.scheduleCmd())
	return rootCmd
}

// app carries the process configuration into every command.
type app struct {
	cfg *config.Config
}

// service builds the backup service with the configured tool runner. The
// returned close func releases the runner.
func (a *app) service() (*backup.Service, func(), error) {
	var (
		r       runner.Runner
		closeFn = func() {}
	)
	switch a.cfg.Tools.Runner {
	case config.RunnerDocker:
		cr, err := docker.NewFromEnv(a.cfg.Tools, logging.Component("docker"))
		if err != nil {
			return nil, nil, err
		}
		r = cr
		closeFn = func() { cr.Close() }
	default:
		r = runner.NewLocal(logging.Component("runner"))
	}
	return backup.NewService(a.cfg, r, logging.Component("backup")), closeFn, nil
}
