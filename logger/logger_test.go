// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/boxes/logger"
	"github.com/stretchr/testify/assert"
)

func TestStandardLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("broken %s", "thing")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  shown 2")
	assert.Contains(t, out, "ERROR: broken thing")
}

func TestVerboseLogger_Prefix(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewVerboseLogger(&buf).WithPrefix("[shard] ")

	l.Debugf("flip %d", 7)
	assert.Contains(t, buf.String(), "[shard] DEBUG: flip 7")
}

func TestBufferLogger(t *testing.T) {
	l := logger.NewBufferLogger()
	l.WithPrefix("outbox: ").Warnf("dropped %s", "msg-1")
	l.Infof("ok")

	lines := strings.Split(strings.TrimSpace(l.String()), "\n")
	assert.Equal(t, []string{"outbox: WARN:  dropped msg-1", "INFO:  ok"}, lines)
}
