// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"
	"time"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	config := server.NewConfig()
	serveCmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"serve"},
		Short:   "Run the boxes server.",
		Long: `boxes server runs the boxes service.

It will load existing state from the configured data
directory, and start listening for client connections
on the configured address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := server.NewCommand(stdin, stdout, stderr, server.OptCommandConfig(config))
			if err != nil {
				return errors.Wrap(err, "creating command")
			}
			if err := m.Start(); err != nil {
				return errors.Wrap(err, "running server")
			}
			return m.Wait()
		},
	}
	serverFlagSet(serveCmd.Flags(), config)
	return serveCmd
}

// serverFlagSet defines a flag for every field of config.
func serverFlagSet(flags *pflag.FlagSet, config *server.Config) {
	flags.StringVarP(&config.Bind, "bind", "b", config.Bind, "Address on which boxes should listen.")
	flags.StringVarP(&config.DataDir, "data-dir", "d", config.DataDir, "Directory to store boxes state in.")
	flags.StringVarP(&config.Storage, "storage", "", config.Storage, "Where to keep state: bolt or memory.")
	flags.StringVarP(&config.LogPath, "log-path", "", config.LogPath, "Log path")
	flags.BoolVarP(&config.Verbose, "verbose", "", config.Verbose, "Enable verbose logging")

	flags.StringVarP(&config.Auth.Token, "auth.token", "", config.Auth.Token, "Bearer token required of clients. Empty disables authentication.")

	flags.StringSliceVarP(&config.Handler.AllowedOrigins, "handler.allowed-origins", "", config.Handler.AllowedOrigins, "Comma separated list of allowed origin URIs (for CORS/Web UI).")
	flags.Float64VarP(&config.Handler.WriteLimit, "handler.write-limit", "", config.Handler.WriteLimit, "Writes per second to accept; 0 for no limit.")
	flags.IntVarP(&config.Handler.WriteBurst, "handler.write-burst", "", config.Handler.WriteBurst, "Writes to accept in a burst above the write limit.")
	flags.DurationVarP((*time.Duration)(&config.Handler.CloseTimeout), "handler.close-timeout", "", time.Duration(config.Handler.CloseTimeout), "Time to wait for open requests on shutdown.")

	flags.IntVarP(&config.Substrate.Partitions, "substrate.partitions", "", config.Substrate.Partitions, "Number of single-writer partitions.")
	flags.IntVarP(&config.Substrate.QueueSize, "substrate.queue-size", "", config.Substrate.QueueSize, "Invocations each partition buffers.")
	flags.IntVarP(&config.Substrate.OutboxCapacity, "substrate.outbox-capacity", "", config.Substrate.OutboxCapacity, "Messages the outbox holds before dropping.")
	flags.IntVarP(&config.Substrate.OutboxWorkers, "substrate.outbox-workers", "", config.Substrate.OutboxWorkers, "Outbox delivery workers.")
	flags.IntVarP(&config.Substrate.MaxAttempts, "substrate.max-attempts", "", config.Substrate.MaxAttempts, "Delivery attempts per message.")
	flags.DurationVarP((*time.Duration)(&config.Substrate.RetryDelay), "substrate.retry-delay", "", time.Duration(config.Substrate.RetryDelay), "Delay before the first redelivery; doubles each attempt.")
}
