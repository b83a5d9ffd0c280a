package trace

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"
)

// Writer receives diagnostics for one operation. It is purely observational.
type Writer interface {
	SetCluster(cluster int)
	SetDatabase(database string)
	SetProcedure(procedure string)
	SetParameter(name string, value any)
	WriteLine(line string)
	Finish(err error)
}

type Nop struct{}

func (Nop) SetCluster(int)           {}
func (Nop) SetDatabase(string)       {}
func (Nop) SetProcedure(string)      {}
func (Nop) SetParameter(string, any) {}
func (Nop) WriteLine(string)         {}
func (Nop) Finish(error)             {}

// ZapWriter logs the trace at debug level, carrying the fields set so far.
type ZapWriter struct {
	logger *zap.Logger
}

func NewZapWriter(logger *zap.Logger) *ZapWriter {
	return &ZapWriter{logger: logger}
}

func (w *ZapWriter) SetCluster(cluster int) {
	w.logger = w.logger.With(zap.Int("cluster", cluster))
}

func (w *ZapWriter) SetDatabase(database string) {
	w.logger = w.logger.With(zap.String("database", database))
}

func (w *ZapWriter) SetProcedure(procedure string) {
	w.logger = w.logger.With(zap.String("procedure", procedure))
}

func (w *ZapWriter) SetParameter(name string, value any) {
	w.logger.Debug("trace parameter", zap.String("name", name), zap.Any("value", value))
}

func (w *ZapWriter) WriteLine(line string) {
	w.logger.Debug(line)
}

func (w *ZapWriter) Finish(err error) {
	if err != nil {
		w.logger.Debug("trace finished", zap.Error(err))
		return
	}
	w.logger.Debug("trace finished")
}

// SpanWriter records the trace on an opentracing span.
type SpanWriter struct {
	span opentracing.Span
}

// StartSpanWriter starts a span named operation, child of any span in ctx.
func StartSpanWriter(ctx context.Context, operation string) (*SpanWriter, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	return &SpanWriter{span: span}, ctx
}

func (w *SpanWriter) Span() opentracing.Span {
	return w.span
}

func (w *SpanWriter) SetCluster(cluster int) {
	w.span.SetTag("repogate.cluster", cluster)
}

func (w *SpanWriter) SetDatabase(database string) {
	w.span.SetTag("repogate.database", database)
}

func (w *SpanWriter) SetProcedure(procedure string) {
	w.span.SetTag("repogate.procedure", procedure)
}

func (w *SpanWriter) SetParameter(name string, value any) {
	w.span.LogFields(log.String("parameter", name), log.String("value", fmt.Sprint(value)))
}

func (w *SpanWriter) WriteLine(line string) {
	w.span.LogFields(log.String("event", line))
}

func (w *SpanWriter) Finish(err error) {
	if err != nil {
		ext.Error.Set(w.span, true)
		w.span.LogFields(log.Error(err))
	}
	w.span.Finish()
}

type multi []Writer

func Multi(writers ...Writer) Writer {
	return multi(writers)
}

func (m multi) SetCluster(cluster int) {
	for _, w := range m {
		w.SetCluster(cluster)
	}
}

func (m multi) SetDatabase(database string) {
	for _, w := range m {
		w.SetDatabase(database)
	}
}

func (m multi) SetProcedure(procedure string) {
	for _, w := range m {
		w.SetProcedure(procedure)
	}
}

func (m multi) SetParameter(name string, value any) {
	for _, w := range m {
		w.SetParameter(name, value)
	}
}

func (m multi) WriteLine(line string) {
	for _, w := range m {
		w.WriteLine(line)
	}
}

func (m multi) Finish(err error) {
	for _, w := range m {
		w.Finish(err)
	}
}
