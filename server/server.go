// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
//
// Package server contains the `boxes server` subcommand which runs the boxes
// service. The purpose of this package is to define an easily tested Command
// object which handles interpreting configuration and setting up all the
// objects that the service needs.
package server

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
	boxeshttp "github.com/featurebasedb/boxes/http"
	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/substrate"
	"github.com/featurebasedb/boxes/substrate/boltdb"
)

// Command represents the state of the boxes server command.
type Command struct {
	// Configuration.
	Config *Config

	Handler *boxeshttp.Handler

	// done will be closed when Command.Close() is called
	done chan struct{}

	// Standard input/output
	*boxes.CmdIO

	ln      net.Listener
	runtime *substrate.Runtime
	state   substrate.StateStore
	sighup  chan os.Signal

	logger    logger.Logger
	logOutput io.Writer
}

type CommandOption func(c *Command) error

// OptCommandConfig replaces the default configuration.
func OptCommandConfig(config *Config) CommandOption {
	return func(c *Command) error {
		c.Config = config
		return nil
	}
}

// OptCommandListener makes the command serve on ln instead of listening on
// the configured bind address.
func OptCommandListener(ln net.Listener) CommandOption {
	return func(c *Command) error {
		c.ln = ln
		return nil
	}
}

// NewCommand returns a new instance of Command.
func NewCommand(stdin io.Reader, stdout, stderr io.Writer, opts ...CommandOption) (*Command, error) {
	c := &Command{
		Config: NewConfig(),

		CmdIO: boxes.NewCmdIO(stdin, stdout, stderr),

		done: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	return c, nil
}

// Start opens the state store, starts the runtime and begins serving HTTP.
// It returns once the listener is open.
func (m *Command) Start() (err error) {
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	if err := m.setupServer(); err != nil {
		return errors.Wrap(err, "setting up server")
	}

	// Serve HTTP.
	go func() {
		if err := m.Handler.Serve(); err != nil {
			m.logger.Errorf("handler serve error: %v", err)
		}
	}()
	m.logger.Printf("%s listening as http://%s", boxes.VersionInfo(), m.ln.Addr())
	return nil
}

// Addr returns the address the server is listening on, once Start has
// returned.
func (m *Command) Addr() net.Addr {
	return m.ln.Addr()
}

func (m *Command) setupServer() (err error) {
	switch m.Config.Storage {
	case StorageMemory:
		m.logger.Infof("keeping state in memory")
		m.state = substrate.NewInmemStateStore()
	default:
		dir, err := expandDirName(m.Config.DataDir)
		if err != nil {
			return errors.Wrap(err, "expanding data dir")
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Wrap(err, "creating data dir")
		}
		db, err := boltdb.NewSvcBolt(dir, "state", boltdb.StateStoreBuckets...)
		if err != nil {
			return errors.Wrap(err, "opening state database")
		}
		m.logger.Infof("using data from: %s", db.Path())
		ss := boltdb.NewStateStore(db, m.logger.WithPrefix("boltdb: "))
		shards, err := ss.Keys(context.Background(), boxes.ObjectShard)
		if err != nil {
			ss.Close()
			return errors.Wrap(err, "listing shards")
		}
		m.logger.Infof("found %d shards with bits set", len(shards))
		m.state = ss
	}

	sc := m.Config.Substrate
	m.runtime = substrate.NewRuntime(m.state, substrate.Config{
		Partitions: sc.Partitions,
		QueueSize:  sc.QueueSize,
		Outbox: substrate.OutboxConfig{
			Capacity:    sc.OutboxCapacity,
			Workers:     sc.OutboxWorkers,
			MaxAttempts: sc.MaxAttempts,
			RetryDelay:  sc.RetryDelay.Duration(),
		},
		Logger: m.logger.WithPrefix("substrate: "),
	})

	if m.ln == nil {
		m.ln, err = net.Listen("tcp", normalizeHost(m.Config.Bind))
		if err != nil {
			return errors.Wrap(err, "net.Listen")
		}
	}

	hc := m.Config.Handler
	m.Handler, err = boxeshttp.NewHandler(
		boxeshttp.OptHandlerStore(boxes.NewStore(m.runtime)),
		boxeshttp.OptHandlerListener(m.ln),
		boxeshttp.OptHandlerLogger(m.logger),
		boxeshttp.OptHandlerAllowedOrigins(hc.AllowedOrigins),
		boxeshttp.OptHandlerAuthToken(m.Config.Auth.Token),
		boxeshttp.OptHandlerWriteLimit(hc.WriteLimit, hc.WriteBurst),
		boxeshttp.OptHandlerCloseTimeout(hc.CloseTimeout.Duration()),
	)
	return errors.Wrap(err, "new handler")
}

// Wait waits for the server to be closed or interrupted.
func (m *Command) Wait() error {
	// First SIGTERM causes server to shut down gracefully.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		m.logger.Infof("received signal '%s', gracefully shutting down...", sig.String())

		// Second signal causes a hard shutdown.
		go func() { <-c; os.Exit(1) }()
		return errors.Wrap(m.Close(), "closing command")
	case <-m.done:
		m.logger.Infof("server closed externally")
		return nil
	}
}

// Close shuts down the server. Open requests finish first, then the runtime
// drains, then the state store closes.
func (m *Command) Close() error {
	select {
	case <-m.done:
		return nil
	default:
	}
	defer close(m.done)

	var errs []string
	if m.Handler != nil {
		if err := m.Handler.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	} else if m.ln != nil {
		m.ln.Close()
	}
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if closer, ok := m.state.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if m.sighup != nil {
		signal.Stop(m.sighup)
		close(m.sighup)
	}
	if closer, ok := m.logOutput.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("closing everything: %s", strings.Join(errs, "; "))
	}
	return nil
}

// setupLogger sets up the logger based on the configuration.
func (m *Command) setupLogger() error {
	var f *logger.FileWriter
	var err error
	if m.Config.LogPath == "" {
		m.logOutput = m.Stderr
	} else {
		f, err = logger.NewFileWriter(m.Config.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		m.logOutput = f
	}
	if m.Config.Verbose {
		m.logger = logger.NewVerboseLogger(m.logOutput)
	} else {
		m.logger = logger.NewStandardLogger(m.logOutput)
	}
	if f != nil {
		m.sighup = make(chan os.Signal, 1)
		signal.Notify(m.sighup, syscall.SIGHUP)
		go func(sighup chan os.Signal) {
			// reopen log file on SIGHUP
			for range sighup {
				if err := f.Reopen(); err != nil {
					m.logger.Infof("reopen: %s", err.Error())
				}
			}
		}(m.sighup)
	}
	return nil
}

// expandDirName expands a leading "~/" to the home directory.
func expandDirName(path string) (string, error) {
	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New(errors.ErrUncoded, "data directory not specified and no home dir available")
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}
	return path, nil
}

func normalizeHost(host string) string {
	host = strings.TrimPrefix(host, "http://")
	if !strings.Contains(host, ":") {
		host = host + ":"
	}
	return host
}
