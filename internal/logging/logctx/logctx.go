// Package logctx carries the stack of nested scope labels in a
// context.Context so that every log call sees the path explicitly.
package logctx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

// DurationKey is the attribute a finished Scope attaches its elapsed time to.
const DurationKey = "DurationMS"

type pathKey struct{}

// Push returns a child of ctx whose path has label appended.
func Push(ctx context.Context, label string) context.Context {
	if parent := Path(ctx); parent != "" {
		label = parent + logging.PathSeparator + label
	}
	return context.WithValue(ctx, pathKey{}, label)
}

// Path returns the labels pushed onto ctx joined by the path separator, or "".
func Path(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	p, _ := ctx.Value(pathKey{}).(string)
	return p
}

// Scope is a labelled, timed region. End logs how long it lasted.
type Scope struct {
	ctx    context.Context
	logger *slog.Logger
	start  time.Time
	once   sync.Once
}

// Start pushes label onto ctx and starts timing. Log through the returned
// context inside the scope and call End when it exits:
//
//	ctx, scope := logctx.Start(ctx, logger, "Import")
//	defer scope.End()
func Start(ctx context.Context, logger *slog.Logger, label string) (context.Context, *Scope) {
	ctx = Push(ctx, label)
	return ctx, &Scope{
		ctx:    ctx,
		logger: logger,
		start:  time.Now(),
	}
}

func (s *Scope) End() {
	s.once.Do(func() {
		elapsed := time.Since(s.start)
		s.logger.LogAttrs(s.ctx, slog.LevelInfo, durationMessage(elapsed),
			slog.Duration(DurationKey, elapsed))
	})
}

var printer = message.NewPrinter(language.English)

func durationMessage(d time.Duration) string {
	return printer.Sprintf("Duration %.1f ms", float64(d)/float64(time.Millisecond))
}
