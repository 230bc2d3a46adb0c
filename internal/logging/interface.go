package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by operations on a sink or processor that has been stopped.
var ErrClosed = errors.New("sink closed")

const (
	LevelTrace = "Trace"
	LevelDebug = "Debug"
	LevelInfo  = "Info"
	LevelWarn  = "Warn"
	LevelError = "Error"
	LevelFatal = "Fatal"
)

// PathSeparator joins the labels of nested scopes into a context path.
const PathSeparator = "/"

type Record struct {
	Timestamp time.Time
	Level     string
	Logger    string
	Message   string
	// Duration is set by timed scopes.
	Duration *time.Duration
	// Extra is a JSON object body fragment such as 'Key':'Value','Other':1.
	Extra     string
	Exception *Exception
	ProcessID int
	ThreadID  int
}

type Exception struct {
	Text    string
	Type    string
	Message string
	Stack   string
}

// ExceptionFromError builds the exception block for err, or nil when err is nil.
func ExceptionFromError(err error) *Exception {
	if err == nil {
		return nil
	}
	return &Exception{
		Text:    fmt.Sprintf("%+v", err),
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   stackText(err),
	}
}

// Writer accepts records from producers. Write never blocks and reports
// whether the record was queued.
type Writer interface {
	Write(record Record, path string) bool
}

type BatchProcessor interface {
	Enqueue(record []byte) bool
	Flush(ctx context.Context) error
	Start()
	Stop() error
}

type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

const (
	DefaultMaxQueueItems     = 1000
	DefaultBatchSize         = 100
	DefaultIdleWait          = 30 * time.Second
	DefaultFlushPollInterval = 10 * time.Millisecond
	DefaultTimeout           = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
)

type Config struct {
	Host        string
	ProjectID   string
	AccessToken string
	Source      string
	TZ          string
	MachineName string

	MaxQueueItems     int
	BatchSize         int
	IdleWait          time.Duration
	FlushPollInterval time.Duration
	Timeout           time.Duration
	ShutdownTimeout   time.Duration
	Compress          bool
}

// WithDefaults returns a copy of c with every unset tunable filled in.
func (c Config) WithDefaults() Config {
	if c.MaxQueueItems <= 0 {
		c.MaxQueueItems = DefaultMaxQueueItems
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.FlushPollInterval <= 0 {
		c.FlushPollInterval = DefaultFlushPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// ErrMissingField marks a required configuration value that was left empty.
var ErrMissingField = errors.New("missing required configuration field")

func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"Host", c.Host},
		{"ProjectId", c.ProjectID},
		{"AccessToken", c.AccessToken},
		{"TZ", c.TZ},
	}
	for _, field := range required {
		if field.value == "" {
			return errors.Wrapf(ErrMissingField, "%s", field.name)
		}
	}
	return nil
}
