// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"strconv"

	"github.com/featurebasedb/boxes/ctl"
	"github.com/featurebasedb/boxes/errors"
	"github.com/spf13/cobra"
)

func newGetCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	get := ctl.NewGetCommand(stdin, stdout, stderr)
	getCmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Print whether ids are checked.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			get.IDs = get.IDs[:0]
			for _, arg := range args {
				id, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return errors.Wrapf(err, "parsing id '%s'", arg)
				}
				get.IDs = append(get.IDs, id)
			}
			ctx, cancel := context.WithTimeout(context.Background(), get.Client.Timeout)
			defer cancel()
			return get.Run(ctx)
		},
	}
	ctl.SetClientFlags(getCmd.Flags(), &get.Client)
	return getCmd
}

func newSetCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	set := ctl.NewSetCommand(stdin, stdout, stderr)
	setCmd := &cobra.Command{
		Use:   "set <id> <true|false>",
		Short: "Check or uncheck an id.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if set.ID, err = strconv.ParseUint(args[0], 10, 64); err != nil {
				return errors.Wrapf(err, "parsing id '%s'", args[0])
			}
			if set.Checked, err = strconv.ParseBool(args[1]); err != nil {
				return errors.Wrapf(err, "parsing checked '%s'", args[1])
			}
			ctx, cancel := context.WithTimeout(context.Background(), set.Client.Timeout)
			defer cancel()
			return set.Run(ctx)
		},
	}
	flags := setCmd.Flags()
	ctl.SetClientFlags(flags, &set.Client)
	flags.BoolVarP(&set.Send, "send", "", false, "Queue the write and return without waiting for it.")
	return setCmd
}

func newCountCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	count := ctl.NewCountCommand(stdin, stdout, stderr)
	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of checked ids.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), count.Client.Timeout)
			defer cancel()
			return count.Run(ctx)
		},
	}
	ctl.SetClientFlags(countCmd.Flags(), &count.Client)
	return countCmd
}

func newRangeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rng := ctl.NewRangeCommand(stdin, stdout, stderr)
	rangeCmd := &cobra.Command{
		Use:   "range <lower>",
		Short: "Print one shard of 512 ids.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if rng.Lower, err = strconv.ParseUint(args[0], 10, 64); err != nil {
				return errors.Wrapf(err, "parsing lower bound '%s'", args[0])
			}
			ctx, cancel := context.WithTimeout(context.Background(), rng.Client.Timeout)
			defer cancel()
			return rng.Run(ctx)
		},
	}
	flags := rangeCmd.Flags()
	ctl.SetClientFlags(flags, &rng.Client)
	flags.BoolVarP(&rng.IDs, "ids", "", false, "Print the checked ids, one per line, instead of the bitmap.")
	return rangeCmd
}
