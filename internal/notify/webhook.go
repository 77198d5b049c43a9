package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "stockwatch/config"
	"stockwatch/internal/metrics"
	"stockwatch/internal/target"
	"stockwatch/logger"
)

// Result counts per-endpoint delivery outcomes for a single alert.
type Result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Dispatcher delivers a triggered-target alert to the user's registered
// endpoints. Delivery is best-effort: a Result is always returned, never
// an error, so a delivery failure cannot undo the trigger that caused it.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *target.PriceTarget, triggeredPrice decimal.Decimal) Result
}

// EndpointSource yields the active delivery endpoints for a user.
type EndpointSource interface {
	ActiveEndpoints(ctx context.Context, userID string) ([]target.Endpoint, error)
}

type alertPayload struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Data  alertData `json:"data"`
}

type alertData struct {
	Ticker        string          `json:"ticker"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	AlertType     string          `json:"alert_type"`
	TargetID      string          `json:"target_id"`
	WatchlistID   string          `json:"watchlist_id"`
	WatchlistName string          `json:"watchlist_name"`
}

// WebhookDispatcher POSTs alert payloads to each registered endpoint,
// paced by a shared rate limiter.
type WebhookDispatcher struct {
	endpoints EndpointSource
	client    *http.Client
	limiter   *rate.Limiter
	log       *logger.Entry
}

func NewWebhookDispatcher(cfg appconfig.NotifyConfig, endpoints EndpointSource) *WebhookDispatcher {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 10
	}

	return &WebhookDispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		log:       logger.GetLogger().WithComponent("notify"),
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, t *target.PriceTarget, triggeredPrice decimal.Decimal) Result {
	endpoints, err := d.endpoints.ActiveEndpoints(ctx, t.UserID)
	if err != nil {
		d.log.WithError(err).WithFields(logger.Fields{
			"ticker": t.Ticker, "target_id": t.TargetID,
		}).Error("failed to load notification endpoints")
		return Result{}
	}
	if len(endpoints) == 0 {
		d.log.WithFields(logger.Fields{
			"user_id": t.UserID, "ticker": t.Ticker,
		}).Warn("no active notification endpoints for user")
		return Result{}
	}

	body, err := json.Marshal(buildPayload(t, triggeredPrice))
	if err != nil {
		d.log.WithError(err).Error("failed to encode alert payload")
		return Result{Failure: len(endpoints)}
	}

	var result Result
	for _, ep := range endpoints {
		if err := d.limiter.Wait(ctx); err != nil {
			result.Failure += len(endpoints) - result.Success - result.Failure
			break
		}
		if err := d.post(ctx, ep.URL, body); err != nil {
			result.Failure++
			d.log.WithError(err).WithFields(logger.Fields{
				"endpoint_id": ep.ID, "ticker": t.Ticker,
			}).Warn("alert delivery failed")
			continue
		}
		result.Success++
	}

	d.log.WithFields(logger.Fields{
		"ticker":  t.Ticker,
		"success": result.Success,
		"failure": result.Failure,
	}).Info("alert dispatched")
	metrics.EmitNotificationResult(logger.GetLogger(), t.Ticker, result.Success, result.Failure)

	return result
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint responded with status %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(t *target.PriceTarget, price decimal.Decimal) alertPayload {
	direction := "reached or went above"
	if t.AlertKind == target.AlertBelow {
		direction = "reached or fell below"
	}
	return alertPayload{
		Title: fmt.Sprintf("🎯 %s Target Hit!", t.Ticker),
		Body: fmt.Sprintf("%s is now $%s, %s your target of $%s (%s)",
			t.Ticker, price.StringFixed(2), direction, t.TargetPrice.StringFixed(2), t.WatchlistName),
		Data: alertData{
			Ticker:        t.Ticker,
			CurrentPrice:  price,
			TargetPrice:   t.TargetPrice,
			AlertType:     string(t.AlertKind),
			TargetID:      t.TargetID,
			WatchlistID:   t.WatchlistID,
			WatchlistName: t.WatchlistName,
		},
	}
}
