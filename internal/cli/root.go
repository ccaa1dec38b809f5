// Package cli implements ratectl, the offline companion of the API: it
// validates tariff files, rates shipment exports without a database and
// imports tariffs into Postgres.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"freightaudit/internal/logging"
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	debug bool
}

// logger is silent unless --debug is set, so json output stays parseable.
func (o *rootOptions) logger() *zap.Logger {
	if !o.debug {
		return zap.NewNop()
	}
	log, err := logging.New("debug")
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "ratectl",
		Short:        "Freight tariff validation and offline rerating",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log rating internals to stdout")
	cmd.AddCommand(validateCmd(), rateCmd(opts), tariffsCmd(opts))
	return cmd
}
