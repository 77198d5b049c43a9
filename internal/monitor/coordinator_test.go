package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	appconfig "stockwatch/config"
	"stockwatch/internal/target"
)

type fakeFeed struct {
	mu        sync.Mutex
	starts    int
	subs      [][]string
	connected bool
}

func (f *fakeFeed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, symbols)
	return nil
}

func (f *fakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeFeed) subscribeCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.subs))
	copy(out, f.subs)
	return out
}

func coordinatorFeedConfig() appconfig.FeedConfig {
	return appconfig.FeedConfig{
		URL:            "ws://example.com/ws/price",
		SubscribeGrace: appconfig.Duration(10 * time.Millisecond),
	}
}

func waitForSubs(t *testing.T, feed *fakeFeed, want int) [][]string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := feed.subscribeCalls(); len(calls) >= want {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscribe calls, got %v", want, feed.subscribeCalls())
	return nil
}

func TestEnsureSubscribedStartsFeedOnce(t *testing.T) {
	feed := &fakeFeed{}
	store := newMemStore()
	c := NewCoordinator(coordinatorFeedConfig(), monitorConfig(), feed, store)

	if err := c.EnsureSubscribed("tsla "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.startCount() != 1 {
		t.Fatalf("expected 1 feed start, got %d", feed.startCount())
	}

	calls := waitForSubs(t, feed, 1)
	if len(calls[0]) != 1 || calls[0][0] != "TSLA" {
		t.Fatalf("expected deferred subscribe for TSLA, got %v", calls)
	}
}

func TestEnsureSubscribedIsIdempotent(t *testing.T) {
	feed := &fakeFeed{connected: true}
	c := NewCoordinator(coordinatorFeedConfig(), monitorConfig(), feed, newMemStore())

	if err := c.EnsureSubscribed("AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForSubs(t, feed, 1)

	feed.mu.Lock()
	feed.connected = true
	feed.mu.Unlock()

	if err := c.EnsureSubscribed("AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.EnsureSubscribed("aapl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if calls := feed.subscribeCalls(); len(calls) != 1 {
		t.Fatalf("repeated symbols must not resubscribe, got %v", calls)
	}
}

func TestEnsureSubscribedRejectsEmptySymbol(t *testing.T) {
	c := NewCoordinator(coordinatorFeedConfig(), monitorConfig(), &fakeFeed{}, newMemStore())
	if err := c.EnsureSubscribed("   "); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}

func TestSubscribeExistingWithNoTargets(t *testing.T) {
	feed := &fakeFeed{}
	c := NewCoordinator(coordinatorFeedConfig(), monitorConfig(), feed, newMemStore())

	if err := c.SubscribeExisting(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.startCount() != 0 {
		t.Fatal("feed must stay idle when there are no active targets")
	}
}

func TestSubscribeExistingRestoresSymbols(t *testing.T) {
	store := newMemStore(
		newTarget("tgt-1", "TSLA", target.AlertAbove, "250"),
		newTarget("tgt-2", "NFLX", target.AlertBelow, "400"),
		newTarget("tgt-3", "TSLA", target.AlertBelow, "200"),
	)
	feed := &fakeFeed{}
	c := NewCoordinator(coordinatorFeedConfig(), monitorConfig(), feed, store)

	if err := c.SubscribeExisting(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.startCount() != 1 {
		t.Fatalf("expected 1 feed start, got %d", feed.startCount())
	}

	calls := feed.subscribeCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 subscribe call, got %v", calls)
	}
	if len(calls[0]) != 2 {
		t.Fatalf("expected 2 deduplicated symbols, got %v", calls[0])
	}

	tracked := c.Tracked()
	if len(tracked) != 2 {
		t.Fatalf("expected 2 tracked symbols, got %v", tracked)
	}
}
