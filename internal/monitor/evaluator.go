package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appconfig "stockwatch/config"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notify"
	"stockwatch/internal/target"
	"stockwatch/logger"
)

// TargetStore is the slice of the target store the evaluator needs.
type TargetStore interface {
	ActiveUntriggered(ctx context.Context, userID string) ([]target.PriceTarget, error)
	UpdateObservedPrice(ctx context.Context, targetID string, price decimal.Decimal, checkedAt time.Time) error
	MarkTriggered(ctx context.Context, targetID string, price decimal.Decimal, triggeredAt time.Time) error
	AppendNotificationHistory(ctx context.Context, rec *target.NotificationRecord) error
}

// PriceSource yields the most recent cached price for a symbol.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Monitor periodically evaluates active price targets against cached
// quotes. A target fires at most once: the trigger is committed to the
// store before the alert is dispatched, and dispatch failures never roll
// it back.
type Monitor struct {
	store      TargetStore
	prices     PriceSource
	dispatcher notify.Dispatcher
	interval   time.Duration
	userID     string
	log        *logger.Entry
	now        func() time.Time
}

func New(cfg appconfig.MonitorConfig, store TargetStore, prices PriceSource, dispatcher notify.Dispatcher) *Monitor {
	interval := cfg.Interval.Std()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		store:      store,
		prices:     prices,
		dispatcher: dispatcher,
		interval:   interval,
		userID:     cfg.UserID,
		log:        logger.GetLogger().WithComponent("monitor"),
		now:        time.Now,
	}
}

// Run evaluates targets on a fixed interval until the context is
// cancelled. One evaluation runs immediately on startup.
func (m *Monitor) Run(ctx context.Context) {
	m.log.WithFields(logger.Fields{"interval": m.interval.String()}).Info("price target monitor started")

	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("price target monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs a single evaluation cycle over every active untriggered
// target.
func (m *Monitor) CheckAll(ctx context.Context) {
	targets, err := m.store.ActiveUntriggered(ctx, m.userID)
	if err != nil {
		m.log.WithError(err).Error("failed to load targets for evaluation")
		return
	}
	if len(targets) == 0 {
		return
	}

	checked, triggered := 0, 0
	for i := range targets {
		hit, err := m.evaluate(ctx, &targets[i])
		if err != nil {
			m.log.WithError(err).WithFields(logger.Fields{
				"target_id": targets[i].TargetID, "ticker": targets[i].Ticker,
			}).Error("target evaluation failed")
			continue
		}
		checked++
		if hit {
			triggered++
		}
	}

	m.log.WithFields(logger.Fields{
		"targets":   len(targets),
		"checked":   checked,
		"triggered": triggered,
	}).Info("evaluation cycle complete")
}

// evaluate checks one target and reports whether it fired. Targets whose
// ticker has no cached quote yet are skipped without error.
func (m *Monitor) evaluate(ctx context.Context, t *target.PriceTarget) (bool, error) {
	price, ok := m.prices.Price(t.Ticker)
	if !ok {
		m.log.WithFields(logger.Fields{"ticker": t.Ticker}).Debug("no cached quote yet, skipping")
		return false, nil
	}

	checkedAt := m.now()
	if err := m.store.UpdateObservedPrice(ctx, t.TargetID, price, checkedAt); err != nil {
		m.log.WithError(err).WithFields(logger.Fields{
			"target_id": t.TargetID,
		}).Warn("failed to record observed price")
	}

	if !t.Hit(price) {
		return false, nil
	}

	// Commit the trigger before dispatching so that a crash between the
	// two steps loses the alert rather than duplicating it.
	if err := m.store.MarkTriggered(ctx, t.TargetID, price, checkedAt); err != nil {
		return false, err
	}

	m.log.WithFields(logger.Fields{
		"ticker":       t.Ticker,
		"target_price": t.TargetPrice.String(),
		"price":        price.String(),
		"alert_type":   string(t.AlertKind),
	}).Info("price target triggered")
	metrics.EmitTargetTriggered(logger.GetLogger(), t.Ticker)

	result := m.dispatcher.Dispatch(ctx, t, price)

	status := "sent"
	if result.Success == 0 {
		status = "failed"
	}
	rec := &target.NotificationRecord{
		ID:            uuid.NewString(),
		UserID:        t.UserID,
		TargetID:      t.TargetID,
		Ticker:        t.Ticker,
		TargetPrice:   t.TargetPrice,
		CurrentPrice:  price,
		AlertKind:     t.AlertKind,
		WatchlistID:   t.WatchlistID,
		WatchlistName: t.WatchlistName,
		SentAt:        checkedAt,
		Status:        status,
	}
	if err := m.store.AppendNotificationHistory(ctx, rec); err != nil {
		m.log.WithError(err).WithFields(logger.Fields{
			"target_id": t.TargetID,
		}).Warn("failed to record notification history")
	}

	return true, nil
}
