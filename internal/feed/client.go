package feed

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "stockwatch/config"
	"stockwatch/internal/metrics"
	"stockwatch/internal/quote"
	"stockwatch/logger"
)

// Conn is the subset of a websocket connection the client relies on. The
// gorilla *websocket.Conn satisfies it; tests substitute fakes through the
// dial function.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

// DialFunc opens one streaming connection to the price feed.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Status is the read-only view of the client consumed by operational
// callers.
type Status struct {
	Connected         bool     `json:"connected"`
	State             string   `json:"state"`
	SubscribedSymbols []string `json:"subscribed_tickers"`
	CachedQuotes      int      `json:"cached_prices"`
	ReconnectAttempts int      `json:"reconnect_attempts"`
}

// Client keeps one outbound streaming connection to the price feed open and
// keeps the quote cache current. The connection drops abnormally are healed
// by a bounded reconnect protocol; the subscription set survives reconnects
// and is replayed in full on every successful connect.
type Client struct {
	url            string
	reconnectDelay time.Duration
	maxAttempts    int
	writeTimeout   time.Duration
	dial           DialFunc
	cache          *quote.Cache
	log            *logger.Log

	mu             sync.Mutex
	state          ConnState
	conn           Conn
	subs           map[string]struct{}
	attempts       int
	reconnectTimer *time.Timer
	running        bool

	// writeMu serialises data frame writes; gorilla connections support a
	// single concurrent writer.
	writeMu sync.Mutex
}

// NewClient creates a streaming price client. The dial function may be nil,
// in which case the gorilla websocket dialer is used.
func NewClient(cfg appconfig.FeedConfig, cache *quote.Cache, dial DialFunc) *Client {
	if dial == nil {
		dial = defaultDial
	}

	writeTimeout := cfg.WriteTimeout.Std()
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Client{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay.Std(),
		maxAttempts:    cfg.MaxReconnectAttempts,
		writeTimeout:   writeTimeout,
		dial:           dial,
		cache:          cache,
		log:            logger.GetLogger(),
		state:          StateDisconnected,
		subs:           make(map[string]struct{}),
	}
}

// Start initiates a connection attempt. It is idempotent while the client is
// running and re-arms a client that previously exhausted its reconnect
// budget.
func (c *Client) Start() {
	log := c.log.WithComponent("feed_client")

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		log.Debug("feed client already running")
		return
	}
	c.running = true
	c.attempts = 0
	c.transitionLocked(StateConnecting)
	c.mu.Unlock()

	log.WithFields(logger.Fields{"url": c.url}).Info("starting feed client")
	go c.connect()
}

// Stop closes the connection with a clean shutdown code and cancels any
// pending reconnect. The reconnect path is never armed by a local stop.
func (c *Client) Stop() {
	c.mu.Lock()
	c.running = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.state != StateDisconnected {
		c.transitionLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(c.writeTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.log.WithComponent("feed_client").WithError(err).Debug("failed to send close frame")
		}
		conn.Close()
	}

	c.log.WithComponent("feed_client").Info("feed client stopped")
}

// Subscribe merges symbols into the subscription set. New symbols are sent
// immediately as an incremental frame when connected; otherwise the merge is
// recorded and replayed in full on the next successful connect. Symbols are
// never removed during normal operation.
func (c *Client) Subscribe(symbols []string) error {
	log := c.log.WithComponent("feed_client")

	var added []string
	c.mu.Lock()
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := c.subs[s]; !ok {
			c.subs[s] = struct{}{}
			added = append(added, s)
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if len(added) == 0 {
		return nil
	}

	if !connected || conn == nil {
		log.WithFields(logger.Fields{"symbols": added}).Info("feed not connected; subscription deferred until connect")
		return nil
	}

	if err := c.writeSymbols(conn, added); err != nil {
		log.WithError(err).WithFields(logger.Fields{"symbols": added}).Warn("failed to send subscribe frame")
		return err
	}

	log.WithFields(logger.Fields{"symbols": added}).Info("subscribed to symbols")
	return nil
}

// IsConnected reports whether the stream is currently live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a point-in-time view of the client for monitoring callers.
func (c *Client) Status() Status {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.subs))
	for s := range c.subs {
		symbols = append(symbols, s)
	}
	status := Status{
		Connected:         c.state == StateConnected,
		State:             c.state.String(),
		SubscribedSymbols: symbols,
		ReconnectAttempts: c.attempts,
	}
	c.mu.Unlock()

	sort.Strings(status.SubscribedSymbols)
	status.CachedQuotes = c.cache.Len()
	return status
}

func (c *Client) connect() {
	log := c.log.WithComponent("feed_client")

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	if c.state != StateConnecting {
		c.transitionLocked(StateConnecting)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	conn, err := c.dial(ctx, c.url)
	cancel()
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"url": c.url}).Warn("failed to connect to price feed")
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.transitionLocked(StateConnected)
	symbols := make([]string, 0, len(c.subs))
	for s := range c.subs {
		symbols = append(symbols, s)
	}
	c.mu.Unlock()

	sort.Strings(symbols)

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
	})

	// The full subscription set is pushed on every connect. An empty list
	// is still sent: the feed expects an immediate subscribe message to
	// keep the channel alive.
	if err := c.writeSymbols(conn, symbols); err != nil {
		log.WithError(err).Warn("failed to push subscription set after connect")
		conn.Close()
		c.handleDisconnect(conn, err)
		return
	}

	log.WithFields(logger.Fields{"symbols": symbols}).Info("connected to price feed")
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleFrame(message)
	}
}

// handleDisconnect reacts to a terminated read loop. Locally initiated
// shutdowns and clean remote closes leave the client disconnected; anything
// else arms the reconnect path.
func (c *Client) handleDisconnect(conn Conn, err error) {
	log := c.log.WithComponent("feed_client")

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one, or Stop already
		// detached it.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if !c.running {
		c.mu.Unlock()
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.running = false
		c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		log.Info("price feed closed cleanly")
		return
	}
	c.mu.Unlock()

	conn.Close()
	log.WithError(err).Warn("price feed connection lost")
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	log := c.log.WithComponent("feed_client")

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.attempts++
	c.transitionLocked(StateReconnectScheduled)
	if c.attempts >= c.maxAttempts {
		c.transitionLocked(StateFailed)
		c.running = false
		log.WithFields(logger.Fields{
			"attempts": c.attempts,
			"max":      c.maxAttempts,
		}).Error("max reconnection attempts reached; feed client requires restart")
		return
	}

	metrics.EmitReconnect(c.log, c.attempts)
	log.WithFields(logger.Fields{
		"attempt": c.attempts,
		"max":     c.maxAttempts,
		"delay":   c.reconnectDelay.String(),
	}).Info("scheduling feed reconnect")

	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, c.connect)
}

// handleFrame parses one inbound frame and applies it to the quote cache.
// Malformed frames are dropped and logged; they never terminate the read
// loop.
func (c *Client) handleFrame(message []byte) {
	log := c.log.WithComponent("feed_client")

	var envelope updateEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		metrics.EmitFrameDropped(c.log, "malformed")
		log.WithError(err).Warn("dropping malformed feed frame")
		return
	}

	if !envelope.isTradeUpdate() {
		log.Debug("ignoring non-trade feed frame")
		return
	}

	now := time.Now()
	updated := 0
	for key, data := range envelope.Data {
		symbol := data.Symbol
		if symbol == "" {
			symbol = key
		}
		c.cache.Set(quote.Quote{
			Symbol:      symbol,
			Price:       data.Price,
			Volume:      data.Volume,
			Timestamp:   data.Timestamp,
			DateTimeUTC: data.DateTimeUTC,
			ReceivedAt:  now,
		})
		updated++
	}

	if updated > 0 {
		metrics.EmitQuoteUpdates(c.log, updated)
	}
}

func (c *Client) writeSymbols(conn Conn, symbols []string) error {
	if symbols == nil {
		symbols = []string{}
	}
	payload, err := json.Marshal(symbols)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// transitionLocked applies a guarded state change. Illegal transitions are
// refused and logged so a bug cannot corrupt the lifecycle. Callers must
// hold c.mu.
func (c *Client) transitionLocked(to ConnState) bool {
	if c.state == to {
		return true
	}
	if !canTransition(c.state, to) {
		c.log.WithComponent("feed_client").WithFields(logger.Fields{
			"from": c.state.String(),
			"to":   to.String(),
		}).Error("illegal connection state transition refused")
		return false
	}
	c.state = to
	return true
}
