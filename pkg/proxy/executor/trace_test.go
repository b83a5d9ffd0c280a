package executor

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfiguredLogTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer logutil.ReplaceLogger(zap.New(core))()

	f := newFixture(t, config.Executor{Trace: TraceLog})
	_, err := f.exec.ExecuteNonQuery(context.Background(), testRepo, command.NewText("update users set name = 'a'"))
	require.NoError(t, err)

	finished := logs.FilterMessage("trace finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, testRepo, fields["repository"])
	assert.Equal(t, "main", fields["database"])
	assert.EqualValues(t, 1, fields["cluster"])
}

func TestConfiguredSpanTrace(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	f := newFixture(t, config.Executor{Trace: TraceOpentracing})
	_, err := f.exec.ExecuteScalar(context.Background(), testRepo, command.NewText("select 1"))
	require.NoError(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "repogate."+testRepo, spans[0].OperationName)
	assert.Equal(t, "main", spans[0].Tag("repogate.database"))
}

func TestExplicitWriterOverridesConfiguredTrace(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	f := newFixture(t, config.Executor{Trace: TraceAll})
	w := &recordingWriter{}
	_, err := f.exec.ExecuteNonQuery(context.Background(), testRepo, command.NewText("delete from users"), WithTraceWriter(w))
	require.NoError(t, err)
	assert.Equal(t, 1, w.finished)
	assert.Empty(t, tracer.FinishedSpans())
}

func TestUnknownTraceOutputDisablesTracing(t *testing.T) {
	f := newFixture(t, config.Executor{Trace: "jaeger"})
	assert.Equal(t, TraceNone, f.exec.traceMode)
}
