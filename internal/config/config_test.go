package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/armory/internal/verification"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "armory.sqlite3", c.DBPath)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, BackendSQLite, c.Backend)
	assert.Equal(t, verification.ModeAppend, c.VerificationMode)
	assert.Equal(t, 8, c.Concurrency)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, time.Local, c.Location)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	env := envMap(map[string]string{
		"ARMORY_ADDR":          ":9000",
		"ARMORY_DB":            "env.sqlite3",
		"ARMORY_KAFKA_BROKERS": "k1:9092,k2:9092",
		"ARMORY_TIMEZONE":      "UTC",
	})
	c, err := Load([]string{"-d", "flag.sqlite3", "--verification-mode", "upsert", "--concurrency", "2"}, env)
	require.NoError(t, err)
	assert.Equal(t, "flag.sqlite3", c.DBPath)
	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, "UTC", c.Location.String())
	assert.Equal(t, verification.ModeUpsert, c.VerificationMode)
	assert.Equal(t, 2, c.Concurrency)

	c, err = Load([]string{"--kafka-brokers", "k3:9092"}, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"k3:9092"}, c.KafkaBrokers)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown backend", []string{"--backend", "postgres"}},
		{"bad timezone", []string{"--timezone", "Mars/Olympus"}},
		{"bad mode", []string{"--verification-mode", "sometimes"}},
		{"zero concurrency", []string{"--concurrency", "0"}},
		{"positional", []string{"serve"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, envMap(nil))
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"}, envMap(nil))
	assert.True(t, errors.Is(err, ErrHelp))

	var buf bytes.Buffer
	Usage(&buf)
	assert.Contains(t, buf.String(), "--redis-url")
	assert.Contains(t, buf.String(), "ARMORY_")
}
