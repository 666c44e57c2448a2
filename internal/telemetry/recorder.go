// Package telemetry — recorder.go
// Recording helper functions for BeadHub's coordination-core events: claims,
// syncs, outbox processing, auth failures, and SSE connections. Each
// function emits both an OTel log event (→ VictoriaLogs) and increments a
// metric counter (→ VictoriaMetrics), mirroring the upstream fleet
// tooling's dual metric+log recorder pattern.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/beadhub/beadhub"
	loggerName         = "beadhub"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	claimTotal         metric.Int64Counter
	claimConflictTotal metric.Int64Counter
	syncTotal          metric.Int64Counter
	syncConflictTotal  metric.Int64Counter
	outboxSentTotal    metric.Int64Counter
	outboxFailedTotal  metric.Int64Counter
	outboxDepth        metric.Int64Gauge
	authFailureTotal   metric.Int64Counter
	sseConnectTotal    metric.Int64Counter
	sseDisconnectTotal metric.Int64Counter

	syncDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Must be called after telemetry.Init so the
// real provider is set. Also called lazily on first use as a safety net.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.claimTotal, _ = m.Int64Counter("beadhub.claims.total",
			metric.WithDescription("Total bead claim upsert attempts"),
		)
		inst.claimConflictTotal, _ = m.Int64Counter("beadhub.claims.conflicts.total",
			metric.WithDescription("Total bead claim attempts rejected because another workspace already holds the bead"),
		)
		inst.syncTotal, _ = m.Int64Counter("beadhub.sync.batches.total",
			metric.WithDescription("Total issue sync batches applied (full or incremental)"),
		)
		inst.syncConflictTotal, _ = m.Int64Counter("beadhub.sync.optimistic_conflicts.total",
			metric.WithDescription("Total issue upserts skipped due to an optimistic-lock conflict"),
		)
		inst.outboxSentTotal, _ = m.Int64Counter("beadhub.outbox.sent.total",
			metric.WithDescription("Total notification intents delivered successfully"),
		)
		inst.outboxFailedTotal, _ = m.Int64Counter("beadhub.outbox.failed.total",
			metric.WithDescription("Total notification intent delivery attempts that failed"),
		)
		inst.outboxDepth, _ = m.Int64Gauge("beadhub.outbox.depth",
			metric.WithDescription("Unprocessed notification intents observed at the end of the last drain"),
		)
		inst.authFailureTotal, _ = m.Int64Counter("beadhub.authn.failures.total",
			metric.WithDescription("Total authentication failures (bearer or proxy path)"),
		)
		inst.sseConnectTotal, _ = m.Int64Counter("beadhub.sse.connects.total",
			metric.WithDescription("Total SSE stream subscriptions opened"),
		)
		inst.sseDisconnectTotal, _ = m.Int64Counter("beadhub.sse.disconnects.total",
			metric.WithDescription("Total SSE stream subscriptions closed"),
		)

		inst.syncDurationHist, _ = m.Float64Histogram("beadhub.sync.duration_ms",
			metric.WithDescription("Issue sync batch round-trip latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordClaim records a bead-claim upsert attempt: project and bead
// identifiers, whether the bead was already held by a different workspace,
// and the outcome.
func RecordClaim(ctx context.Context, projectID, beadID string, heldByOther bool, err error) {
	initInstruments()
	inst.claimTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.Bool("held_by_other", heldByOther),
		attribute.String("status", statusStr(err)),
	))
	if heldByOther {
		inst.claimConflictTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("project_id", projectID),
		))
	}
	emit(ctx, "claim.upsert", severity(err),
		otellog.String("project_id", projectID),
		otellog.String("bead_id", beadID),
		otellog.Bool("held_by_other", heldByOther),
		errKV(err),
	)
}

// RecordSync records one full or incremental issue-sync batch.
func RecordSync(ctx context.Context, projectID string, added, updated, conflicts int, durationMs float64, err error) {
	initInstruments()
	inst.syncTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("status", statusStr(err)),
	))
	if conflicts > 0 {
		inst.syncConflictTotal.Add(ctx, int64(conflicts), metric.WithAttributes(
			attribute.String("project_id", projectID),
		))
	}
	inst.syncDurationHist.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("project_id", projectID),
	))
	emit(ctx, "sync.batch", severity(err),
		otellog.String("project_id", projectID),
		otellog.Int("added", added),
		otellog.Int("updated", updated),
		otellog.Int("conflicts", conflicts),
		otellog.Float64("duration_ms", durationMs),
		errKV(err),
	)
}

// RecordOutbox records the result of one ProcessOutbox drain.
func RecordOutbox(ctx context.Context, projectID string, sent, failed, depth int) {
	initInstruments()
	if sent > 0 {
		inst.outboxSentTotal.Add(ctx, int64(sent), metric.WithAttributes(
			attribute.String("project_id", projectID),
		))
	}
	if failed > 0 {
		inst.outboxFailedTotal.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("project_id", projectID),
		))
	}
	inst.outboxDepth.Record(ctx, int64(depth), metric.WithAttributes(
		attribute.String("project_id", projectID),
	))
	emit(ctx, "outbox.drain", otellog.SeverityInfo,
		otellog.String("project_id", projectID),
		otellog.Int("sent", sent),
		otellog.Int("failed", failed),
		otellog.Int("depth", depth),
	)
}

// RecordAuthFailure records a rejected authentication attempt. reason is a
// short machine-readable label (e.g. "bad_token", "bad_signature",
// "deregistered"), never the raw credential.
func RecordAuthFailure(ctx context.Context, mode, reason string) {
	initInstruments()
	inst.authFailureTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("reason", reason),
	))
	emit(ctx, "authn.failure", otellog.SeverityWarn,
		otellog.String("mode", mode),
		otellog.String("reason", reason),
	)
}

// RecordSSEConnect records an SSE stream subscription opening or closing.
func RecordSSEConnect(ctx context.Context, projectID string, connected bool) {
	initInstruments()
	if connected {
		inst.sseConnectTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("project_id", projectID)))
	} else {
		inst.sseDisconnectTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("project_id", projectID)))
	}
	emit(ctx, "sse.connection", otellog.SeverityInfo,
		otellog.String("project_id", projectID),
		otellog.Bool("connected", connected),
	)
}
