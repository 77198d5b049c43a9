package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "stockwatch/config"
	"stockwatch/internal/target"
	"stockwatch/logger"
)

// Feed is the streaming client surface the coordinator drives.
type Feed interface {
	Start()
	Subscribe(symbols []string) error
	IsConnected() bool
}

// Coordinator ties target lifecycle events to feed subscriptions. The
// feed connection is started lazily, on the first symbol that needs it,
// so a deployment with no targets never opens a socket.
type Coordinator struct {
	feed  Feed
	store TargetStore

	grace  time.Duration
	userID string
	log    *logger.Entry

	mu      sync.Mutex
	tracked map[string]struct{}
	started bool
}

func NewCoordinator(cfg appconfig.FeedConfig, monitorCfg appconfig.MonitorConfig, feed Feed, store TargetStore) *Coordinator {
	grace := cfg.SubscribeGrace.Std()
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Coordinator{
		feed:    feed,
		store:   store,
		grace:   grace,
		userID:  monitorCfg.UserID,
		log:     logger.GetLogger().WithComponent("coordinator"),
		tracked: make(map[string]struct{}),
	}
}

// EnsureSubscribed makes sure quotes for a symbol will flow. Safe to call
// repeatedly for the same symbol.
func (c *Coordinator) EnsureSubscribed(symbol string) error {
	symbol = target.NormalizeTicker(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	c.mu.Lock()
	if _, ok := c.tracked[symbol]; ok {
		c.mu.Unlock()
		return nil
	}
	c.tracked[symbol] = struct{}{}
	firstStart := !c.started
	c.started = true
	c.mu.Unlock()

	if firstStart || !c.feed.IsConnected() {
		c.feed.Start()
		// Give the connection a moment to come up; the subscription is
		// merged either way and replayed once the socket is open.
		sym := symbol
		time.AfterFunc(c.grace, func() {
			if err := c.feed.Subscribe([]string{sym}); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{"symbol": sym}).Warn("deferred subscribe failed")
			}
		})
		c.log.WithFields(logger.Fields{"symbol": symbol}).Info("feed starting for new symbol")
		return nil
	}

	if err := c.feed.Subscribe([]string{symbol}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", symbol, err)
	}
	c.log.WithFields(logger.Fields{"symbol": symbol}).Info("subscribed to symbol")
	return nil
}

// SubscribeExisting restores subscriptions for every active untriggered
// target at boot. When there are none the feed stays down.
func (c *Coordinator) SubscribeExisting(ctx context.Context) error {
	targets, err := c.store.ActiveUntriggered(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to load targets at boot: %w", err)
	}
	if len(targets) == 0 {
		c.log.Info("no active price targets, feed stays idle")
		return nil
	}

	seen := make(map[string]struct{})
	var symbols []string
	for _, t := range targets {
		sym := target.NormalizeTicker(t.Ticker)
		if _, ok := seen[sym]; ok || sym == "" {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	c.mu.Lock()
	for _, sym := range symbols {
		c.tracked[sym] = struct{}{}
	}
	c.started = true
	c.mu.Unlock()

	c.feed.Start()
	if err := c.feed.Subscribe(symbols); err != nil {
		return fmt.Errorf("failed to restore subscriptions: %w", err)
	}

	c.log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("restored feed subscriptions")
	return nil
}

// Tracked returns the set of symbols the coordinator has subscribed.
func (c *Coordinator) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tracked))
	for sym := range c.tracked {
		out = append(out, sym)
	}
	return out
}
