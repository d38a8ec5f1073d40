// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/shardwidth"
)

// GetCommand prints whether each of a set of ids is checked.
type GetCommand struct {
	*boxes.CmdIO
	Client ClientOptions

	IDs []uint64
}

// NewGetCommand returns a new instance of GetCommand.
func NewGetCommand(stdin io.Reader, stdout, stderr io.Writer) *GetCommand {
	return &GetCommand{
		CmdIO: boxes.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run fetches each shard holding one of the ids once and prints one
// "<id> <checked>" line per id, in id order.
func (cmd *GetCommand) Run(ctx context.Context) error {
	if len(cmd.IDs) == 0 {
		return boxes.NewErrValidation("at least one id is required")
	}
	client, err := CommandClient(cmd.Client, cmd.CmdIO)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}

	ids := append([]uint64(nil), cmd.IDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lowers, ends := shardwidth.FindShards(ids)
	start := 0
	for i, lower := range lowers {
		v, err := client.GetRange(ctx, lower)
		if err != nil {
			return errors.Wrapf(err, "getting range %d", lower)
		}
		for _, id := range ids[start:ends[i]] {
			fmt.Fprintf(cmd.Stdout, "%d %t\n", id, v.Bit(int(shardwidth.Offset(id))))
		}
		start = ends[i]
	}
	return nil
}

// SetCommand checks or unchecks one id.
type SetCommand struct {
	*boxes.CmdIO
	Client ClientOptions

	ID      uint64
	Checked bool

	// Send queues the write without waiting for it to be applied.
	Send bool
}

// NewSetCommand returns a new instance of SetCommand.
func NewSetCommand(stdin io.Reader, stdout, stderr io.Writer) *SetCommand {
	return &SetCommand{
		CmdIO: boxes.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run writes the bit and prints the resulting shard, or "queued" when
// sending.
func (cmd *SetCommand) Run(ctx context.Context) error {
	client, err := CommandClient(cmd.Client, cmd.CmdIO)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	lower, offset := shardwidth.Lower(cmd.ID), int64(shardwidth.Offset(cmd.ID))

	if cmd.Send {
		if err := client.SendRange(ctx, lower, offset, cmd.Checked); err != nil {
			return errors.Wrapf(err, "sending %d", cmd.ID)
		}
		fmt.Fprintln(cmd.Stdout, "queued")
		return nil
	}

	v, err := client.SetRange(ctx, lower, offset, cmd.Checked)
	if err != nil {
		return errors.Wrapf(err, "setting %d", cmd.ID)
	}
	fmt.Fprintf(cmd.Stdout, "%d %s\n", lower, v)
	return nil
}

// CountCommand prints the number of checked ids.
type CountCommand struct {
	*boxes.CmdIO
	Client ClientOptions
}

// NewCountCommand returns a new instance of CountCommand.
func NewCountCommand(stdin io.Reader, stdout, stderr io.Writer) *CountCommand {
	return &CountCommand{
		CmdIO: boxes.NewCmdIO(stdin, stdout, stderr),
	}
}

func (cmd *CountCommand) Run(ctx context.Context) error {
	client, err := CommandClient(cmd.Client, cmd.CmdIO)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	n, err := client.Count(ctx)
	if err != nil {
		return errors.Wrap(err, "getting count")
	}
	fmt.Fprintln(cmd.Stdout, n)
	return nil
}

// RangeCommand prints one shard.
type RangeCommand struct {
	*boxes.CmdIO
	Client ClientOptions

	Lower uint64

	// IDs prints the checked ids instead of the decimal bitmap.
	IDs bool
}

// NewRangeCommand returns a new instance of RangeCommand.
func NewRangeCommand(stdin io.Reader, stdout, stderr io.Writer) *RangeCommand {
	return &RangeCommand{
		CmdIO: boxes.NewCmdIO(stdin, stdout, stderr),
	}
}

func (cmd *RangeCommand) Run(ctx context.Context) error {
	if !shardwidth.IsLower(cmd.Lower) {
		return boxes.NewErrInvalidShardKey(strconv.FormatUint(cmd.Lower, 10))
	}
	client, err := CommandClient(cmd.Client, cmd.CmdIO)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	v, err := client.GetRange(ctx, cmd.Lower)
	if err != nil {
		return errors.Wrapf(err, "getting range %d", cmd.Lower)
	}
	if !cmd.IDs {
		fmt.Fprintln(cmd.Stdout, v)
		return nil
	}
	for i := 0; i < boxes.RangeSize; i++ {
		if v.Bit(i) {
			fmt.Fprintln(cmd.Stdout, cmd.Lower+uint64(i))
		}
	}
	return nil
}
