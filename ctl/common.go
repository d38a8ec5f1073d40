// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"time"

	"github.com/featurebasedb/boxes"
	boxeshttp "github.com/featurebasedb/boxes/http"
	"github.com/spf13/pflag"
)

// ClientOptions holds the settings shared by commands which talk to a
// server.
type ClientOptions struct {
	Host    string
	Token   string
	Retries int
	Timeout time.Duration
}

// SetClientFlags creates the common client flags.
func SetClientFlags(flags *pflag.FlagSet, opts *ClientOptions) {
	flags.StringVarP(&opts.Host, "host", "", "http://localhost:8080", "URL of the boxes server.")
	flags.StringVarP(&opts.Token, "token", "", "", "Bearer token to send with every request.")
	flags.IntVarP(&opts.Retries, "retries", "", 3, "Number of times to retry a failed request.")
	flags.DurationVarP(&opts.Timeout, "timeout", "", 10*time.Second, "Time limit for the whole command.")
}

// CommandClient returns an HTTP client for the command.
func CommandClient(opts ClientOptions, cmdio *boxes.CmdIO) (*boxeshttp.Client, error) {
	return boxeshttp.NewClient(opts.Host,
		boxeshttp.OptClientToken(opts.Token),
		boxeshttp.OptClientLogger(cmdio.Logger()),
		boxeshttp.OptClientRetries(opts.Retries, 50*time.Millisecond, time.Second),
	)
}
