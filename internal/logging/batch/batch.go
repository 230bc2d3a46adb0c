package batch

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/Chichichkin/SplunkSink/internal/logging"
	"github.com/Chichichkin/SplunkSink/internal/logging/queue"
)

// Processor owns the ingestion queue and the single goroutine that drains it
// into batches for the transport.
type Processor struct {
	ctx       context.Context
	stopCtx   context.CancelFunc
	transport logging.Transport
	config    logging.Config
	queue     *queue.Queue
	wake      chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
	log       logr.Logger
	metrics   *Metrics
}

var _ logging.BatchProcessor = (*Processor)(nil)

type Option func(*Processor)

func WithLogger(log logr.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

// WithRegisterer registers the processor's metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(p *Processor) {
		if err := p.metrics.register(r); err != nil {
			p.log.Error(err, "metrics not registered")
		}
	}
}

func NewBatchProcessor(ctx context.Context, transport logging.Transport, config logging.Config, opts ...Option) *Processor {
	config = config.WithDefaults()
	nCtx, cancel := context.WithCancel(ctx)

	p := &Processor{
		ctx:       nCtx,
		stopCtx:   cancel,
		transport: transport,
		config:    config,
		queue:     queue.New(config.MaxQueueItems),
		wake:      make(chan struct{}, 1),
		log:       klog.Background().WithName("batch"),
	}
	p.metrics = newMetrics(p.queue.Len)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue queues a serialized record without blocking. It returns false when
// the queue is full or the processor has been stopped; the record is dropped.
func (p *Processor) Enqueue(record []byte) bool {
	if p.ctx.Err() != nil || !p.queue.TryEnqueue(record) {
		p.metrics.RecordsDropped.Inc()
		return false
	}
	p.metrics.RecordsEnqueued.Inc()
	return true
}

func (p *Processor) Len() int {
	return p.queue.Len()
}

func (p *Processor) Metrics() *Metrics {
	return p.metrics
}

func (p *Processor) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
		p.log.V(1).Info("batch sender started",
			"capacity", p.config.MaxQueueItems, "batchSize", p.config.BatchSize)
	})
}

// Stop asks the sender to exit after its current batch and waits up to
// ShutdownTimeout for it. Records still queued are discarded.
func (p *Processor) Stop() error {
	p.stopCtx()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return errors.Newf("batch sender did not stop within %s", p.config.ShutdownTimeout)
	}

	if n := p.queue.Len(); n > 0 {
		p.log.Info("discarding undelivered records", "records", n)
	}
	p.log.V(1).Info("batch sender stopped")
	return nil
}

// Flush wakes the sender and blocks until the queue is observed empty. A nil
// return means every record queued before the call has left the queue, not
// that it was delivered.
func (p *Processor) Flush(ctx context.Context) error {
	ticker := time.NewTicker(p.config.FlushPollInterval)
	defer ticker.Stop()

	for p.queue.Len() > 0 {
		if p.ctx.Err() != nil {
			return logging.ErrClosed
		}
		// wake again on every poll so late arrivals are not left for the idle wait
		p.signal()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return logging.ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Processor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Processor) run() {
	defer p.wg.Done()

	idle := time.NewTimer(p.config.IdleWait)
	defer idle.Stop()

	for {
		if p.ctx.Err() != nil {
			return
		}

		batch := p.queue.Drain(p.config.BatchSize)
		if len(batch) > 0 {
			p.sendBatch(batch)
			continue
		}

		idle.Reset(p.config.IdleWait)
		select {
		case <-p.wake:
		case <-idle.C:
		case <-p.ctx.Done():
			return
		}
		idle.Stop()
	}
}

func (p *Processor) sendBatch(batch [][]byte) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.BatchFailures.Inc()
			p.log.Error(errors.Newf("%v", r), "transport panicked, batch discarded", "records", len(batch))
		}
	}()

	payload := bytes.Join(batch, nil)

	// an in-flight delivery is bounded by the transport timeout, not by Stop
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.config.Timeout)
	defer cancel()

	if err := p.transport.Send(ctx, payload); err != nil {
		p.metrics.BatchFailures.Inc()
		p.log.Error(err, "failed to send batch", "records", len(batch))
		return
	}

	p.metrics.BatchesSent.Inc()
	p.log.V(2).Info("sent batch", "records", len(batch), "bytes", len(payload))
}
