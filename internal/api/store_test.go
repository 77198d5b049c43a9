package api

import (
	"fmt"
	"testing"
	"time"

	"stockwatch/internal/metrics"
)

func TestMetricStoreBounded(t *testing.T) {
	store := newMetricStore(3)

	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{
			Timestamp: time.Now(),
			Component: "feed_client",
			Name:      fmt.Sprintf("metric-%d", i),
			Value:     i,
		})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 retained metrics, got %d", len(snapshot))
	}
	if snapshot[0].Name != "metric-2" || snapshot[2].Name != "metric-4" {
		t.Errorf("expected the most recent entries, got %v", snapshot)
	}
}

func TestMetricStoreDefaultLimit(t *testing.T) {
	store := newMetricStore(0)
	if store.limit != 200 {
		t.Fatalf("expected default limit 200, got %d", store.limit)
	}
}
