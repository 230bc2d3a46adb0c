// Package sink assembles the encoder, batch processor and transport into a
// log sink with an explicit start/stop lifecycle.
package sink

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/Chichichkin/SplunkSink/internal/logging"
	"github.com/Chichichkin/SplunkSink/internal/logging/batch"
	"github.com/Chichichkin/SplunkSink/internal/logging/encode"
	"github.com/Chichichkin/SplunkSink/internal/logging/splunk"
)

type Sink struct {
	processor *batch.Processor
	sender    *splunk.Sender
	log       logr.Logger
	pid       int
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	log        logr.Logger
	trust      splunk.TrustPolicy
	registerer prometheus.Registerer
	transport  logging.Transport
}

type Option func(*options)

func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func WithTrustPolicy(trust splunk.TrustPolicy) Option {
	return func(o *options) {
		o.trust = trust
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithTransport replaces the HTTPS sender, mainly for tests.
func WithTransport(t logging.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// New validates config, builds the transport and starts the batch sender.
// The sender runs until Close or until ctx is cancelled.
func New(ctx context.Context, config logging.Config, opts ...Option) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sink configuration")
	}
	config = config.WithDefaults()

	o := options{
		log:   klog.Background().WithName("splunk-sink"),
		trust: splunk.DefaultTrustPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Sink{
		log: o.log,
		pid: os.Getpid(),
	}

	transport := o.transport
	if transport == nil {
		sender, err := splunk.NewSender(config, o.trust)
		if err != nil {
			return nil, errors.Wrap(err, "create transport")
		}
		s.sender = sender
		transport = sender
	}

	batchOpts := []batch.Option{batch.WithLogger(o.log)}
	if o.registerer != nil {
		batchOpts = append(batchOpts, batch.WithRegisterer(o.registerer))
	}
	s.processor = batch.NewBatchProcessor(ctx, transport, config, batchOpts...)
	s.processor.Start()

	s.log.Info("sink started", "host", config.Host, "index", config.ProjectID, "capacity", config.MaxQueueItems)
	return s, nil
}

// Write encodes record with the context path active at the call site and
// queues it. It returns false if the record was dropped.
func (s *Sink) Write(record logging.Record, path string) bool {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if record.ProcessID == 0 {
		record.ProcessID = s.pid
	}
	if record.ThreadID == 0 {
		record.ThreadID = currentThreadID()
	}
	return s.processor.Enqueue(encode.Encode(record, path))
}

func (s *Sink) Flush(ctx context.Context) error {
	return s.processor.Flush(ctx)
}

func (s *Sink) Len() int {
	return s.processor.Len()
}

func (s *Sink) Metrics() *batch.Metrics {
	return s.processor.Metrics()
}

// Close stops the sender and releases the transport. Queued records that were
// not drained are lost; call Flush first to hand them to the transport.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.processor.Stop()
		if s.sender != nil {
			s.sender.Close()
		}
		s.log.Info("sink closed")
	})
	return s.closeErr
}
