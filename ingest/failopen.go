package ingest

import (
	"context"
	"time"

	"watchtower/core"
	"watchtower/metrics"

	"go.uber.org/zap"
)

const (
	sourceInProcess = "inprocess"

	// DefaultFailOpenTimeout bounds how long a producer waits on ingestion
	DefaultFailOpenTimeout = 5 * time.Second
)

// FailOpenRecorder is handed to in-process producers (login flow,
// permission checks, ...). Record never returns an error and never blocks
// the caller past its timeout.
type FailOpenRecorder struct {
	recorder Recorder
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

// FailOpen wraps recorder with the default timeout
func FailOpen(recorder Recorder, logger *zap.SugaredLogger) *FailOpenRecorder {
	return &FailOpenRecorder{recorder: recorder, timeout: DefaultFailOpenTimeout, logger: logger}
}

// WithTimeout returns a copy using timeout
func (f *FailOpenRecorder) WithTimeout(timeout time.Duration) *FailOpenRecorder {
	cp := *f
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// Record ingests in and returns the stored event id, or "" when ingestion
// failed. Failures and panics are logged and counted.
func (f *FailOpenRecorder) Record(ctx context.Context, in core.EventInput) (id string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IngestMessages.WithLabelValues(sourceInProcess, "failed").Inc()
			f.logger.Errorw("Event ingestion panicked", "type", in.Type, "panic", r)
			id = ""
		}
	}()

	// the producer's own cancellation must not drop its audit trail
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	ev, err := f.recorder.RecordEvent(ctx, in)
	if err != nil {
		metrics.IngestMessages.WithLabelValues(sourceInProcess, "failed").Inc()
		f.logger.Warnw("Event ingestion failed", "type", in.Type, "user_id", in.UserID, "error", err)
		return ""
	}
	metrics.IngestMessages.WithLabelValues(sourceInProcess, "recorded").Inc()
	return ev.ID
}
