// Command example ships a handful of records through the sink using the same
// flags and environment variables as the agent.
package main

import (
	"context"
	goflag "flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/Chichichkin/SplunkSink/internal/config"
	"github.com/Chichichkin/SplunkSink/internal/logging/handler"
	"github.com/Chichichkin/SplunkSink/internal/logging/logctx"
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

	ctx := context.Background()
	s, err := sink.New(ctx, cfg.Sink)
	if err != nil {
		klog.ErrorS(err, "failed to create sink")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	logger := slog.New(handler.New(s, handler.Options{
		Logger: "example",
		Level:  slog.LevelDebug,
	})).With("RunId", uuid.NewString())

	logger.Info("Basic logging")

	mainCtx, scope := logctx.Start(ctx, logger, "Main")
	logger.InfoContext(mainCtx, "In context")
	testFunction(mainCtx, logger, "TestArg")
	scope.End()

	flushCtx, cancel := context.WithTimeout(ctx, cfg.Sink.ShutdownTimeout)
	defer cancel()
	if err := s.Flush(flushCtx); err != nil {
		klog.ErrorS(err, "flush did not complete", "pending", s.Len())
	}
	if err := s.Close(); err != nil {
		klog.ErrorS(err, "failed to close sink")
	}
}

func testFunction(ctx context.Context, logger *slog.Logger, arg string) {
	ctx, scope := logctx.Start(ctx, logger, "TestFunction")
	defer scope.End()

	logger.InfoContext(ctx, "Argument "+arg)
	logger.WarnContext(ctx, "Warning caution!")
	time.Sleep(time.Second)
	logger.DebugContext(ctx, "Done...")
}
