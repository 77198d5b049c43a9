package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	appconfig "stockwatch/config"
	"stockwatch/internal/target"
)

type fakeEndpointSource struct {
	endpoints []target.Endpoint
	err       error
}

func (f *fakeEndpointSource) ActiveEndpoints(_ context.Context, _ string) ([]target.Endpoint, error) {
	return f.endpoints, f.err
}

func testNotifyConfig() appconfig.NotifyConfig {
	return appconfig.NotifyConfig{
		RequestsPerSecond: 100,
		BurstSize:         100,
	}
}

func testTarget() *target.PriceTarget {
	return &target.PriceTarget{
		TargetID:      "tgt-1",
		UserID:        "user123",
		Ticker:        "TSLA",
		TargetPrice:   decimal.RequireFromString("250.00"),
		AlertKind:     target.AlertAbove,
		WatchlistID:   "wl-1",
		WatchlistName: "Tech Growth",
		IsActive:      true,
	}
}

func TestDispatchDeliversPayload(t *testing.T) {
	var received alertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &fakeEndpointSource{endpoints: []target.Endpoint{
		{ID: "ep-1", UserID: "user123", URL: server.URL, IsActive: true},
	}}
	d := NewWebhookDispatcher(testNotifyConfig(), source)

	result := d.Dispatch(context.Background(), testTarget(), decimal.RequireFromString("255.30"))

	if result.Success != 1 || result.Failure != 0 {
		t.Fatalf("expected 1 success, got %+v", result)
	}
	if received.Data.Ticker != "TSLA" {
		t.Errorf("payload ticker = %q, want TSLA", received.Data.Ticker)
	}
	if received.Data.AlertType != "above" {
		t.Errorf("payload alert_type = %q, want above", received.Data.AlertType)
	}
	if !received.Data.CurrentPrice.Equal(decimal.RequireFromString("255.30")) {
		t.Errorf("payload current_price = %s, want 255.30", received.Data.CurrentPrice)
	}
	if received.Title == "" || received.Body == "" {
		t.Error("expected non-empty title and body")
	}
}

func TestDispatchCountsPartialFailures(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	source := &fakeEndpointSource{endpoints: []target.Endpoint{
		{ID: "ep-1", URL: ok.URL, IsActive: true},
		{ID: "ep-2", URL: failing.URL, IsActive: true},
		{ID: "ep-3", URL: "http://127.0.0.1:1/unreachable", IsActive: true},
	}}
	d := NewWebhookDispatcher(testNotifyConfig(), source)

	result := d.Dispatch(context.Background(), testTarget(), decimal.RequireFromString("260"))

	if result.Success != 1 {
		t.Errorf("expected 1 success, got %d", result.Success)
	}
	if result.Failure != 2 {
		t.Errorf("expected 2 failures, got %d", result.Failure)
	}
}

func TestDispatchNoEndpoints(t *testing.T) {
	d := NewWebhookDispatcher(testNotifyConfig(), &fakeEndpointSource{})

	result := d.Dispatch(context.Background(), testTarget(), decimal.NewFromInt(300))

	if result.Success != 0 || result.Failure != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestDispatchBuildsBelowBody(t *testing.T) {
	tgt := testTarget()
	tgt.AlertKind = target.AlertBelow

	payload := buildPayload(tgt, decimal.RequireFromString("240.10"))
	if payload.Data.AlertType != "below" {
		t.Errorf("alert_type = %q, want below", payload.Data.AlertType)
	}
	if payload.Body == "" {
		t.Error("expected non-empty body")
	}
}
