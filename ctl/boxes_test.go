// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/ctl"
	"github.com/featurebasedb/boxes/errors"
	boxeshttp "github.com/featurebasedb/boxes/http"
	"github.com/featurebasedb/boxes/server"
	"github.com/featurebasedb/boxes/substrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) ctl.ClientOptions {
	t.Helper()
	rt := substrate.NewRuntime(substrate.NewInmemStateStore(), substrate.Config{})
	t.Cleanup(func() { rt.Close() })
	h, err := boxeshttp.NewHandler(
		boxeshttp.OptHandlerStore(boxes.NewStore(rt)),
		boxeshttp.OptHandlerAuthToken("tok"),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return ctl.ClientOptions{Host: srv.URL, Token: "tok", Timeout: time.Second}
}

func TestClientCommands(t *testing.T) {
	opts := newServer(t)
	ctx := context.Background()

	for _, id := range []uint64{3, 515, 1024} {
		var out bytes.Buffer
		set := ctl.NewSetCommand(nil, &out, &bytes.Buffer{})
		set.Client, set.ID, set.Checked = opts, id, true
		require.NoError(t, set.Run(ctx))
	}

	var out bytes.Buffer
	set := ctl.NewSetCommand(nil, &out, &bytes.Buffer{})
	set.Client, set.ID, set.Checked = opts, 4, true
	require.NoError(t, set.Run(ctx))
	assert.Equal(t, "0 24\n", out.String())

	out.Reset()
	send := ctl.NewSetCommand(nil, &out, &bytes.Buffer{})
	send.Client, send.ID, send.Checked, send.Send = opts, 4, false, true
	require.NoError(t, send.Run(ctx))
	assert.Equal(t, "queued\n", out.String())

	require.Eventually(t, func() bool {
		var out bytes.Buffer
		count := ctl.NewCountCommand(nil, &out, &bytes.Buffer{})
		count.Client = opts
		return count.Run(ctx) == nil && out.String() == "3\n"
	}, 2*time.Second, 10*time.Millisecond)

	out.Reset()
	get := ctl.NewGetCommand(nil, &out, &bytes.Buffer{})
	get.Client, get.IDs = opts, []uint64{1024, 3, 4, 515, 516}
	require.NoError(t, get.Run(ctx))
	assert.Equal(t, strings.Join([]string{
		"3 true",
		"4 false",
		"515 true",
		"516 false",
		"1024 true",
	}, "\n")+"\n", out.String())

	out.Reset()
	rng := ctl.NewRangeCommand(nil, &out, &bytes.Buffer{})
	rng.Client, rng.Lower = opts, 512
	require.NoError(t, rng.Run(ctx))
	assert.Equal(t, "8\n", out.String())

	out.Reset()
	rng.IDs = true
	require.NoError(t, rng.Run(ctx))
	assert.Equal(t, "515\n", out.String())

	rng.Lower = 100
	assert.True(t, errors.Is(rng.Run(ctx), boxes.ErrInvalidShardKey))

	get.IDs = nil
	assert.True(t, errors.Is(get.Run(ctx), boxes.ErrValidation))
}

func TestClientCommands_Unauthorized(t *testing.T) {
	opts := newServer(t)
	opts.Token = "wrong"

	count := ctl.NewCountCommand(nil, &bytes.Buffer{}, &bytes.Buffer{})
	count.Client = opts
	err := count.Run(context.Background())
	assert.True(t, errors.Is(err, boxes.ErrUnauthorized))
}

func TestGenerateConfigCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := ctl.NewGenerateConfigCommand(nil, &out, &bytes.Buffer{})
	require.NoError(t, cmd.Run(context.Background()))
	assert.Contains(t, out.String(), ":8080")
	assert.Contains(t, out.String(), "[substrate]")
}

func TestConfigCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := ctl.NewConfigCommand(nil, &out, &bytes.Buffer{})
	cmd.Config.Bind = "localhost:9999"
	cmd.Config.Storage = server.StorageMemory
	require.NoError(t, cmd.Run(context.Background()))
	assert.Contains(t, out.String(), "localhost:9999")
	assert.Contains(t, out.String(), server.StorageMemory)
}
