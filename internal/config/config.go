// Package config assembles the agent settings from command line flags whose
// defaults come from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/Chichichkin/SplunkSink/internal/daemon"
	"github.com/Chichichkin/SplunkSink/internal/logging"
)

type AppConfig struct {
	Sink        logging.Config
	Daemon      daemon.Config
	MetricsAddr string
}

// AddFlags registers every setting on fs. Flag defaults are read from the
// environment at call time, so explicit flags win over variables.
func (c *AppConfig) AddFlags(fs *pflag.FlagSet) {
	s := &c.Sink
	fs.StringVar(&s.Host, "splunk-host", getEnv("SPLUNK_HOST", ""), "Ingestion host name")
	fs.StringVar(&s.ProjectID, "splunk-project-id", getEnv("SPLUNK_PROJECT_ID", ""), "Project identifier")
	fs.StringVar(&s.AccessToken, "splunk-access-token", getEnv("SPLUNK_ACCESS_TOKEN", ""), "Access token used as the basic auth password")
	fs.StringVar(&s.Source, "splunk-source", getEnv("SPLUNK_SOURCE", ""), "Source attribute of shipped records")
	fs.StringVar(&s.TZ, "splunk-tz", getEnv("SPLUNK_TZ", "UTC"), "Time zone of record timestamps")
	fs.IntVar(&s.MaxQueueItems, "max-queue-items", getEnvAsInt("SPLUNK_MAX_QUEUE_ITEMS", logging.DefaultMaxQueueItems), "Records held before new ones are dropped")
	fs.IntVar(&s.BatchSize, "batch-size", getEnvAsInt("SPLUNK_BATCH_SIZE", logging.DefaultBatchSize), "Records per request")
	fs.DurationVar(&s.IdleWait, "idle-wait", getEnvAsDuration("SPLUNK_IDLE_WAIT", logging.DefaultIdleWait), "Sender wait when the queue is empty")
	fs.DurationVar(&s.Timeout, "timeout", getEnvAsDuration("SPLUNK_TIMEOUT", logging.DefaultTimeout), "Per request timeout")
	fs.DurationVar(&s.ShutdownTimeout, "shutdown-timeout", getEnvAsDuration("SPLUNK_SHUTDOWN_TIMEOUT", logging.DefaultShutdownTimeout), "Bound on waiting for the sender to exit")
	fs.BoolVar(&s.Compress, "compress", getEnvAsBool("SPLUNK_COMPRESS", false), "Gzip request bodies")

	d := &c.Daemon
	fs.StringVar(&d.LogRootPath, "log-path", getEnv("LOG_PATH", "/var/log/pods"), "Directory scanned for *.log files")
	fs.DurationVar(&d.ScanInterval, "scan-interval", getEnvAsDuration("SCAN_INTERVAL", 30*time.Second), "Interval between directory scans")
	fs.IntVar(&d.Workers, "workers", getEnvAsInt("WORKERS", 4), "Files tailed concurrently")
	fs.IntVar(&d.FileQueueSize, "file-queue-size", getEnvAsInt("FILE_QUEUE_SIZE", 50), "Discovered files waiting for a worker")
	fs.DurationVar(&d.FileIdleTimeout, "file-idle-timeout", getEnvAsDuration("FILE_IDLE_TIMEOUT", 5*time.Minute), "Stop tailing a file after this long without lines")
	fs.StringVar(&d.NodeName, "node-name", getEnv("NODE_NAME", hostname()), "Node name attached to every line")
	fs.DurationVar(&d.ReportInterval, "report-interval", getEnvAsDuration("REPORT_INTERVAL", time.Minute), "Interval between daemon metric reports, 0 disables")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ""), "Address of the /metrics endpoint, empty disables")
}

// Load parses args into a fresh AppConfig and validates the sink settings.
func Load(fs *pflag.FlagSet, args []string) (AppConfig, error) {
	var c AppConfig
	c.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return AppConfig{}, errors.Wrap(err, "parse flags")
	}
	c.Sink.MachineName = c.Daemon.NodeName
	if err := c.Sink.Validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
