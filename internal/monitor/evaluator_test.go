package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "stockwatch/config"
	"stockwatch/internal/notify"
	"stockwatch/internal/target"
)

type memStore struct {
	mu       sync.Mutex
	targets  map[string]*target.PriceTarget
	history  []target.NotificationRecord
	observed    map[string]decimal.Decimal
	observedErr error
	markErr     error
	listErr     error
}

func newMemStore(targets ...*target.PriceTarget) *memStore {
	s := &memStore{
		targets:  make(map[string]*target.PriceTarget),
		observed: make(map[string]decimal.Decimal),
	}
	for _, t := range targets {
		s.targets[t.TargetID] = t
	}
	return s
}

func (s *memStore) ActiveUntriggered(_ context.Context, userID string) ([]target.PriceTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []target.PriceTarget
	for _, t := range s.targets {
		if t.UserID == userID && t.IsActive && !t.Triggered {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) UpdateObservedPrice(_ context.Context, targetID string, price decimal.Decimal, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observedErr != nil {
		return s.observedErr
	}
	s.observed[targetID] = price
	return nil
}

func (s *memStore) MarkTriggered(_ context.Context, targetID string, price decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	t, ok := s.targets[targetID]
	if !ok || t.Triggered {
		return errors.New("target already triggered or missing")
	}
	t.Triggered = true
	t.TriggeredAt = &at
	t.TriggeredPrice = decimal.NullDecimal{Decimal: price, Valid: true}
	return nil
}

func (s *memStore) AppendNotificationHistory(_ context.Context, rec *target.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *rec)
	return nil
}

type staticPrices map[string]decimal.Decimal

func (p staticPrices) Price(symbol string) (decimal.Decimal, bool) {
	price, ok := p[symbol]
	return price, ok
}

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []string
	result notify.Result
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t *target.PriceTarget, _ decimal.Decimal) notify.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, t.TargetID)
	return d.result
}

func (d *recordingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func monitorConfig() appconfig.MonitorConfig {
	return appconfig.MonitorConfig{
		Interval: appconfig.Duration(time.Minute),
		UserID:   "user123",
	}
}

func newTarget(id, ticker string, kind target.AlertKind, price string) *target.PriceTarget {
	return &target.PriceTarget{
		TargetID:      id,
		UserID:        "user123",
		Ticker:        ticker,
		TargetPrice:   decimal.RequireFromString(price),
		AlertKind:     kind,
		WatchlistID:   "wl-1",
		WatchlistName: "Tech Growth",
		IsActive:      true,
	}
}

func TestAboveTargetFires(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("255.30")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if !store.targets["tgt-1"].Triggered {
		t.Fatal("expected target to be triggered")
	}
	if dispatcher.callCount() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", dispatcher.callCount())
	}
	if got := store.targets["tgt-1"].TriggeredPrice; !got.Valid || !got.Decimal.Equal(decimal.RequireFromString("255.30")) {
		t.Errorf("triggered price = %v, want 255.30", got)
	}
}

func TestExactBoundaryFires(t *testing.T) {
	above := newTarget("tgt-a", "TSLA", target.AlertAbove, "250.00")
	below := newTarget("tgt-b", "NFLX", target.AlertBelow, "400.00")
	store := newMemStore(above, below)
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{
		"TSLA": decimal.RequireFromString("250.00"),
		"NFLX": decimal.RequireFromString("400.00"),
	}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if !above.Triggered || !below.Triggered {
		t.Fatalf("expected both boundary targets to fire, got above=%v below=%v", above.Triggered, below.Triggered)
	}
}

func TestBelowTargetFires(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertBelow, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("240.10")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if !store.targets["tgt-1"].Triggered {
		t.Fatal("expected target to be triggered")
	}
}

func TestTriggeredTargetNeverRefires(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("260.00")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())
	m.CheckAll(context.Background())
	m.CheckAll(context.Background())

	if dispatcher.callCount() != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", dispatcher.callCount())
	}
	if len(store.history) != 1 {
		t.Fatalf("expected exactly 1 history record, got %d", len(store.history))
	}
}

func TestTargetWithoutQuoteIsSkipped(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "NFLX", target.AlertAbove, "400.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}

	m := New(monitorConfig(), store, staticPrices{}, dispatcher)
	m.CheckAll(context.Background())

	if store.targets["tgt-1"].Triggered {
		t.Fatal("target without a cached quote must not trigger")
	}
	if _, ok := store.observed["tgt-1"]; ok {
		t.Error("observed price must not be recorded without a quote")
	}

	// Once a quote arrives the same target is evaluated normally.
	m2 := New(monitorConfig(), store, staticPrices{"NFLX": decimal.RequireFromString("410")}, dispatcher)
	m2.CheckAll(context.Background())
	if !store.targets["tgt-1"].Triggered {
		t.Fatal("expected target to trigger once a quote is available")
	}
}

func TestObservedPriceRecordedWithoutTrigger(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("245.00")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if store.targets["tgt-1"].Triggered {
		t.Fatal("target below threshold must not trigger")
	}
	if got, ok := store.observed["tgt-1"]; !ok || !got.Equal(decimal.RequireFromString("245.00")) {
		t.Errorf("observed price = %v, want 245.00", got)
	}
}

func TestObservedPriceWriteFailureDoesNotAbortCycle(t *testing.T) {
	store := newMemStore(
		newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"),
		newTarget("tgt-2", "NFLX", target.AlertBelow, "400.00"),
	)
	store.observedErr = errors.New("database unavailable")
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{
		"TSLA": decimal.RequireFromString("260.00"),
		"NFLX": decimal.RequireFromString("390.00"),
	}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if !store.targets["tgt-1"].Triggered || !store.targets["tgt-2"].Triggered {
		t.Fatal("observed price write failures must not stop the hit evaluation")
	}
	if dispatcher.callCount() != 2 {
		t.Fatalf("expected both targets dispatched, got %d", dispatcher.callCount())
	}
	if len(store.history) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(store.history))
	}
}

func TestMarkTriggeredFailureSkipsDispatch(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	store.markErr = errors.New("database unavailable")
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("260.00")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if dispatcher.callCount() != 0 {
		t.Fatal("dispatch must not run when the trigger commit fails")
	}

	// The failure is transient: the next cycle retries and fires once.
	store.markErr = nil
	m.CheckAll(context.Background())
	if dispatcher.callCount() != 1 {
		t.Fatalf("expected 1 dispatch after retry, got %d", dispatcher.callCount())
	}
}

func TestDispatchFailureKeepsTrigger(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Failure: 2}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("260.00")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if !store.targets["tgt-1"].Triggered {
		t.Fatal("trigger must survive a dispatch failure")
	}
	if len(store.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(store.history))
	}
	if store.history[0].Status != "failed" {
		t.Errorf("history status = %q, want failed", store.history[0].Status)
	}

	m.CheckAll(context.Background())
	if dispatcher.callCount() != 1 {
		t.Fatal("failed dispatch must not be retried")
	}
}

func TestHistoryRecordFields(t *testing.T) {
	store := newMemStore(newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00"))
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 2}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("255.30")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if len(store.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(store.history))
	}
	rec := store.history[0]
	if rec.ID == "" {
		t.Error("history record must carry an id")
	}
	if rec.Ticker != "TSLA" || rec.TargetID != "tgt-1" {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if !rec.CurrentPrice.Equal(decimal.RequireFromString("255.30")) {
		t.Errorf("record current price = %s, want 255.30", rec.CurrentPrice)
	}
	if rec.Status != "sent" {
		t.Errorf("record status = %q, want sent", rec.Status)
	}
	if rec.WatchlistName != "Tech Growth" {
		t.Errorf("record watchlist name = %q", rec.WatchlistName)
	}
}

func TestInactiveTargetNotEvaluated(t *testing.T) {
	inactive := newTarget("tgt-1", "TSLA", target.AlertAbove, "250.00")
	inactive.IsActive = false
	store := newMemStore(inactive)
	dispatcher := &recordingDispatcher{result: notify.Result{Success: 1}}
	prices := staticPrices{"TSLA": decimal.RequireFromString("300.00")}

	m := New(monitorConfig(), store, prices, dispatcher)
	m.CheckAll(context.Background())

	if inactive.Triggered {
		t.Fatal("deactivated target must not trigger")
	}
	if dispatcher.callCount() != 0 {
		t.Fatal("deactivated target must not dispatch")
	}
}
