// Package handler adapts log/slog to a logging.Writer.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/Chichichkin/SplunkSink/internal/logging"
	"github.com/Chichichkin/SplunkSink/internal/logging/encode"
	"github.com/Chichichkin/SplunkSink/internal/logging/logctx"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// ErrorKey attributes holding an error fill the record's exception block.
const ErrorKey = "error"

type Options struct {
	// Logger is reported as the record's logger name.
	Logger string
	// Level defaults to slog.LevelInfo.
	Level slog.Leveler
}

type Handler struct {
	writer logging.Writer
	opts   Options
	attrs  []slog.Attr
	prefix string
}

func New(w logging.Writer, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &Handler{writer: w, opts: opts}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle never reports an error: a record the writer drops is gone silently.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	rec := logging.Record{
		Timestamp: r.Time,
		Level:     LevelName(r.Level),
		Logger:    h.opts.Logger,
		Message:   r.Message,
	}

	var arena fastjson.Arena
	extra := arena.NewObject()

	add := func(prefix string, a slog.Attr) {
		h.collect(&arena, extra, &rec, prefix, a)
	}
	for _, a := range h.attrs {
		add("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(h.prefix, a)
		return true
	})

	rec.Extra = encode.Fragment(extra)
	h.writer.Write(rec, logctx.Path(ctx))
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *Handler) collect(arena *fastjson.Arena, extra *fastjson.Value, rec *logging.Record, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	switch {
	case a.Key == logctx.DurationKey && a.Value.Kind() == slog.KindDuration:
		d := a.Value.Duration()
		rec.Duration = &d
		return
	case a.Key == ErrorKey && a.Value.Kind() == slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			rec.Exception = logging.ExceptionFromError(err)
			return
		}
	case a.Value.Kind() == slog.KindGroup:
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.collect(arena, extra, rec, groupPrefix, ga)
		}
		return
	}

	extra.Set(prefix+a.Key, jsonValue(arena, a.Value))
}

func jsonValue(arena *fastjson.Arena, v slog.Value) *fastjson.Value {
	switch v.Kind() {
	case slog.KindString:
		return arena.NewString(v.String())
	case slog.KindInt64:
		return arena.NewNumberString(strconv.FormatInt(v.Int64(), 10))
	case slog.KindUint64:
		return arena.NewNumberString(strconv.FormatUint(v.Uint64(), 10))
	case slog.KindFloat64:
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return arena.NewString(strconv.FormatFloat(f, 'g', -1, 64))
		}
		return arena.NewNumberFloat64(f)
	case slog.KindBool:
		if v.Bool() {
			return arena.NewTrue()
		}
		return arena.NewFalse()
	case slog.KindDuration:
		return arena.NewString(v.Duration().String())
	case slog.KindTime:
		return arena.NewString(v.Time().Format(time.RFC3339Nano))
	default:
		if err, ok := v.Any().(error); ok {
			return arena.NewString(err.Error())
		}
		return arena.NewString(fmt.Sprint(v.Any()))
	}
}

func LevelName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return logging.LevelTrace
	case l < slog.LevelInfo:
		return logging.LevelDebug
	case l < slog.LevelWarn:
		return logging.LevelInfo
	case l < slog.LevelError:
		return logging.LevelWarn
	case l < LevelFatal:
		return logging.LevelError
	default:
		return logging.LevelFatal
	}
}
