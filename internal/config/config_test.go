package config

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

func setRequired(t *testing.T) {
	t.Setenv("SPLUNK_HOST", "api.splunkstorm.com")
	t.Setenv("SPLUNK_PROJECT_ID", "proj")
	t.Setenv("SPLUNK_ACCESS_TOKEN", "secret")
}

func newFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet("test", pflag.ContinueOnError)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("NODE_NAME", "node-1")

	c, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, "api.splunkstorm.com", c.Sink.Host)
	assert.Equal(t, "UTC", c.Sink.TZ)
	assert.Equal(t, logging.DefaultMaxQueueItems, c.Sink.MaxQueueItems)
	assert.Equal(t, logging.DefaultBatchSize, c.Sink.BatchSize)
	assert.Equal(t, logging.DefaultIdleWait, c.Sink.IdleWait)
	assert.False(t, c.Sink.Compress)
	assert.Equal(t, "node-1", c.Sink.MachineName)

	assert.Equal(t, "/var/log/pods", c.Daemon.LogRootPath)
	assert.Equal(t, 30*time.Second, c.Daemon.ScanInterval)
	assert.Equal(t, "node-1", c.Daemon.NodeName)
	assert.Empty(t, c.MetricsAddr)
}

func TestLoad_Environment(t *testing.T) {
	setRequired(t)
	t.Setenv("SPLUNK_BATCH_SIZE", "25")
	t.Setenv("SPLUNK_IDLE_WAIT", "2s")
	t.Setenv("SPLUNK_COMPRESS", "true")
	t.Setenv("WORKERS", "7")
	t.Setenv("METRICS_ADDR", ":9102")

	c, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, 25, c.Sink.BatchSize)
	assert.Equal(t, 2*time.Second, c.Sink.IdleWait)
	assert.True(t, c.Sink.Compress)
	assert.Equal(t, 7, c.Daemon.Workers)
	assert.Equal(t, ":9102", c.MetricsAddr)
}

func TestLoad_MalformedEnvironmentFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SPLUNK_BATCH_SIZE", "many")
	t.Setenv("SPLUNK_TIMEOUT", "soon")

	c, err := Load(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, logging.DefaultBatchSize, c.Sink.BatchSize)
	assert.Equal(t, logging.DefaultTimeout, c.Sink.Timeout)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("SPLUNK_SOURCE", "env")

	c, err := Load(newFlagSet(), []string{"--splunk-source=flag", "--splunk-tz=Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "flag", c.Sink.Source)
	assert.Equal(t, "Europe/Berlin", c.Sink.TZ)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("SPLUNK_ACCESS_TOKEN", "")

	_, err := Load(newFlagSet(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, logging.ErrMissingField))
}

func TestLoad_BadFlag(t *testing.T) {
	setRequired(t)

	_, err := Load(newFlagSet(), []string{"--no-such-flag"})
	assert.Error(t, err)
}
