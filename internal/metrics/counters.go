package metrics

import "stockwatch/logger"

const (
	// MetricQuoteUpdates counts quote cache writes from the price feed.
	MetricQuoteUpdates = "quote_updates"
	// MetricFramesDropped counts inbound frames dropped by the feed client.
	MetricFramesDropped = "frames_dropped"
	// MetricReconnects counts scheduled feed reconnect attempts.
	MetricReconnects = "reconnects_scheduled"
	// MetricTargetsTriggered counts price targets fired by the evaluator.
	MetricTargetsTriggered = "targets_triggered"
	// MetricNotificationsSent counts endpoint deliveries that succeeded.
	MetricNotificationsSent = "notifications_sent"
	// MetricNotificationsFailed counts endpoint deliveries that failed.
	MetricNotificationsFailed = "notifications_failed"
)

// EmitQuoteUpdates records the number of symbols updated from one inbound
// price frame.
func EmitQuoteUpdates(log *logger.Log, count int) {
	EmitMetric(log, "feed_client", MetricQuoteUpdates, count, "counter", nil)
}

// EmitFrameDropped records an inbound frame dropped before it reached the
// quote cache. The reason enables downstream aggregation by failure class.
func EmitFrameDropped(log *logger.Log, reason string) {
	EmitMetric(log, "feed_client", MetricFramesDropped, 1, "counter", logger.Fields{"reason": reason})
}

// EmitReconnect records a scheduled reconnect attempt.
func EmitReconnect(log *logger.Log, attempt int) {
	EmitMetric(log, "feed_client", MetricReconnects, 1, "counter", logger.Fields{"attempt": attempt})
}

// EmitTargetTriggered records a target transitioning to the triggered state.
func EmitTargetTriggered(log *logger.Log, ticker string) {
	EmitMetric(log, "monitor", MetricTargetsTriggered, 1, "counter", logger.Fields{"ticker": ticker})
}

// EmitNotificationResult records the per-endpoint delivery outcome of one
// dispatched alert.
func EmitNotificationResult(log *logger.Log, ticker string, success, failure int) {
	if success > 0 {
		EmitMetric(log, "notifier", MetricNotificationsSent, success, "counter", logger.Fields{"ticker": ticker})
	}
	if failure > 0 {
		EmitMetric(log, "notifier", MetricNotificationsFailed, failure, "counter", logger.Fields{"ticker": ticker})
	}
}
