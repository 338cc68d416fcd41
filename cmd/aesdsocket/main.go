package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/aesdsocket/internal/config"
	"github.com/danmuck/aesdsocket/internal/daemon"
	"github.com/danmuck/aesdsocket/internal/logging"
	"github.com/danmuck/aesdsocket/internal/server"
	"github.com/danmuck/aesdsocket/internal/shutdown"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		report(os.Stderr, err)
		os.Exit(1)
	}
}

// loggedError marks an error run has already sent to the logger.
type loggedError struct{ err error }

func (e loggedError) Error() string { return e.err.Error() }
func (e loggedError) Unwrap() error { return e.err }

// report prints err to w unless it was already logged. Flag and
// argument errors from cobra reach here unlogged.
func report(w io.Writer, err error) {
	var logged loggedError
	if errors.As(err, &logged) {
		return
	}
	fmt.Fprintf(w, "aesdsocket: %v\n", err)
}

func newRootCmd(runFn func(daemonMode bool) error) *cobra.Command {
	var daemonMode bool
	cmd := &cobra.Command{
		Use:           "aesdsocket",
		Short:         "Append newline-framed packets to a shared log and echo the log back",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return runFn(daemonMode)
		},
	}
	cmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "detach and run in the background")
	return cmd
}

func run(daemonMode bool) error {
	cfg, err := config.Load()
	if err != nil {
		logging.ConfigureRuntime()
		log.Error().Err(err).Msg("failed to load config")
		return loggedError{err}
	}

	if daemon.IsChild() || cfg.Syslog {
		logging.ConfigureDaemon()
	} else {
		logging.ConfigureRuntime()
	}

	childEnv, err := cfg.ChildEnv()
	if err != nil {
		log.Error().Err(err).Msg("failed to prepare daemon environment")
		return loggedError{err}
	}

	srv := server.New(cfg)
	err = srv.Run(server.RunOptions{
		Daemon:   daemonMode,
		Signals:  shutdown.OSSignals{},
		Detacher: daemon.Exec{ExtraEnv: childEnv},
	})
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
		return loggedError{err}
	}
	return nil
}
