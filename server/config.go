// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"time"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/toml"
)

const (
	StorageBolt   = "bolt"
	StorageMemory = "memory"
)

// Config represents the configuration for the command.
type Config struct {
	// Bind is the host:port on which the server will listen.
	Bind string `toml:"bind"`

	// DataDir is the directory holding the state database.
	DataDir string `toml:"data-dir"`

	// Storage selects where object state is kept: "bolt" or "memory".
	Storage string `toml:"storage"`

	// LogPath configures where the server will write logs.
	LogPath string `toml:"log-path"`

	// Verbose toggles verbose logging which can be useful for debugging.
	Verbose bool `toml:"verbose"`

	Auth struct {
		// Token, when set, must be presented as a bearer token by every
		// request except health, metrics and version.
		Token string `toml:"token"`
	} `toml:"auth"`

	// HTTP Handler options
	Handler struct {
		// CORS Allowed Origins
		AllowedOrigins []string `toml:"allowed-origins"`
		// WriteLimit is the sustained number of writes per second the server
		// accepts; 0 disables limiting.
		WriteLimit float64 `toml:"write-limit"`
		WriteBurst int     `toml:"write-burst"`
		// CloseTimeout bounds how long shutdown waits for open requests.
		CloseTimeout toml.Duration `toml:"close-timeout"`
	} `toml:"handler"`

	Substrate struct {
		Partitions     int           `toml:"partitions"`
		QueueSize      int           `toml:"queue-size"`
		OutboxCapacity int           `toml:"outbox-capacity"`
		OutboxWorkers  int           `toml:"outbox-workers"`
		MaxAttempts    int           `toml:"max-attempts"`
		RetryDelay     toml.Duration `toml:"retry-delay"`
	} `toml:"substrate"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Bind:    ":8080",
		DataDir: "~/.boxes",
		Storage: StorageBolt,
		// LogPath: "",
		// Verbose: false,
	}

	c.Handler.AllowedOrigins = []string{}
	c.Handler.WriteBurst = 100
	c.Handler.CloseTimeout = toml.Duration(30 * time.Second)

	c.Substrate.Partitions = 16
	c.Substrate.QueueSize = 256
	c.Substrate.OutboxCapacity = 4096
	c.Substrate.OutboxWorkers = 4
	c.Substrate.MaxAttempts = 5
	c.Substrate.RetryDelay = toml.Duration(50 * time.Millisecond)

	return c
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageBolt:
		if c.DataDir == "" {
			return errors.Errorf("data-dir is required with %s storage", StorageBolt)
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage '%s', want '%s' or '%s'", c.Storage, StorageBolt, StorageMemory)
	}
	if c.Handler.WriteLimit < 0 {
		return errors.Errorf("write-limit must not be negative: %v", c.Handler.WriteLimit)
	}
	if c.Handler.WriteLimit > 0 && c.Handler.WriteBurst < 1 {
		return errors.Errorf("write-burst must be at least 1 when write-limit is set: %d", c.Handler.WriteBurst)
	}
	return nil
}
