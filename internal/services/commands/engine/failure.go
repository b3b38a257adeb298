package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/id"
	"github.com/louisbranch/sitesync/internal/platform/timeouts"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	log "github.com/sirupsen/logrus"
)

// PanicError wraps a value recovered from a handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Report is one internal failure handed to a Sink.
type Report struct {
	CorrelationID string
	Err           error
	Command       command.Command
	// Stack is set when the failure was a recovered panic.
	Stack      []byte
	OccurredAt time.Time
}

// Sink receives internal failure reports. The ctx passed to Report expires
// after timeouts.SinkReport.
type Sink interface {
	Report(ctx context.Context, report Report)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, report Report)

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, report Report) {
	f(ctx, report)
}

// FailureRecorder assigns correlation ids to internal failures and forwards
// them to a sink. It never returns an error to the caller.
type FailureRecorder struct {
	sink   Sink
	newID  id.Generator
	now    func() time.Time
	logger log.FieldLogger
}

// NewFailureRecorder builds a recorder. A nil sink drops reports.
func NewFailureRecorder(sink Sink, gen id.Generator, logger log.FieldLogger) *FailureRecorder {
	return &FailureRecorder{sink: sink, newID: gen.OrDefault(), now: time.Now, logger: logger}
}

// Record reports err for cmd and returns the correlation id to store.
func (r *FailureRecorder) Record(ctx context.Context, err error, cmd command.Command) string {
	if r == nil {
		return ""
	}
	correlationID, genErr := r.newID()
	if genErr != nil {
		correlationID = fmt.Sprintf("corr-%x", r.now().UnixNano())
	}
	report := Report{
		CorrelationID: correlationID,
		Err:           err,
		Command:       cmd,
		OccurredAt:    r.now().UTC(),
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		report.Stack = panicErr.Stack
	}
	r.forward(ctx, report)
	return correlationID
}

func (r *FailureRecorder) forward(ctx context.Context, report Report) {
	if r.sink == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil && r.logger != nil {
			r.logger.WithField("correlation_id", report.CorrelationID).Errorf("failure sink panicked: %v", v)
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.SinkReport)
	defer cancel()
	r.sink.Report(ctx, report)
}
