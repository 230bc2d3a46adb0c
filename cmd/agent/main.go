package main

import (
	"context"
	goflag "flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/Chichichkin/SplunkSink/internal/config"
	"github.com/Chichichkin/SplunkSink/internal/daemon"
	"github.com/Chichichkin/SplunkSink/internal/logging/sink"
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	defer klog.Flush()

	cfg, err := config.Load(pflag.CommandLine, os.Args[1:])
	if err != nil {
		klog.ErrorS(err, "invalid configuration")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.ErrorS(err, "agent failed")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	// The sink outlives ctx so that lines read before shutdown can be flushed.
	s, err := sink.New(context.Background(), cfg.Sink, sink.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			klog.ErrorS(err, "failed to close sink")
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv, err = serveMetrics(cfg.MetricsAddr)
		if err != nil {
			return err
		}
	}

	service := daemon.NewLogDaemonService(ctx, cfg.Daemon, s)
	service.Start()

	<-ctx.Done()
	klog.Info("received shutdown signal")

	service.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Sink.ShutdownTimeout)
	defer cancel()
	if err := s.Flush(flushCtx); err != nil {
		klog.ErrorS(err, "flush did not complete", "pending", s.Len())
	}

	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "metrics server stopped")
		}
	}()
	klog.InfoS("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
