// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/featurebasedb/boxes/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d toml.Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	txt, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(txt))

	j, err := json.Marshal(struct {
		Poll toml.Duration `json:"poll"`
	}{Poll: d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"poll":"1.5s"}`, string(j))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
