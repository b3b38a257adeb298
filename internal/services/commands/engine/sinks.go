package engine

import (
	"context"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const attrCorrelationID = "sitesync.correlation_id"

// LogSink writes failure reports as structured log entries.
type LogSink struct {
	logger log.FieldLogger
}

// NewLogSink builds a sink over logger.
func NewLogSink(logger log.FieldLogger) *LogSink {
	return &LogSink{logger: logging.OrDiscard(logger)}
}

// Report logs the failure with its correlation id.
func (s *LogSink) Report(_ context.Context, report Report) {
	entry := s.logger.WithFields(log.Fields{
		"correlation_id": report.CorrelationID,
		"project_id":     report.Command.ProjectID,
		"command_id":     report.Command.ID,
		"entity_type":    report.Command.EntityType,
		"operation":      report.Command.Operation,
	}).WithError(report.Err)
	if len(report.Stack) > 0 {
		entry = entry.WithField("stack", string(report.Stack))
	}
	entry.Error("command failed with internal error")
}

// TraceSink records failures on the active span.
type TraceSink struct{}

// Report records the error event and correlation id on the span in ctx.
func (TraceSink) Report(ctx context.Context, report Report) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.String(attrCorrelationID, report.CorrelationID))
	span.RecordError(report.Err, trace.WithAttributes(attribute.String(attrCorrelationID, report.CorrelationID)))
}

// MultiSink fans a report out to every sink in order.
type MultiSink []Sink

// Report forwards to each non-nil sink.
func (m MultiSink) Report(ctx context.Context, report Report) {
	for _, sink := range m {
		if sink != nil {
			sink.Report(ctx, report)
		}
	}
}
