package target

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind is the direction of a price target.
type AlertKind string

const (
	// AlertAbove fires when the observed price reaches or exceeds the target.
	AlertAbove AlertKind = "above"
	// AlertBelow fires when the observed price reaches or falls below the target.
	AlertBelow AlertKind = "below"
)

// ParseAlertKind validates a user-supplied alert kind.
func ParseAlertKind(s string) (AlertKind, error) {
	switch AlertKind(strings.ToLower(strings.TrimSpace(s))) {
	case AlertAbove:
		return AlertAbove, nil
	case AlertBelow:
		return AlertBelow, nil
	default:
		return "", fmt.Errorf("alert type must be either %q or %q", AlertAbove, AlertBelow)
	}
}

// PriceTarget is a user-configured price threshold tied to a ticker inside a
// watchlist. The triggered flag is monotonic: once set it is never cleared,
// and a triggered target is never evaluated again. Deactivation is a soft
// delete and leaves the triggered flag untouched.
type PriceTarget struct {
	TargetID      string          `json:"target_id"`
	UserID        string          `json:"-"`
	Ticker        string          `json:"ticker"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	AlertKind     AlertKind       `json:"alert_type"`
	WatchlistID   string          `json:"watchlist_id"`
	WatchlistName string          `json:"watchlist_name"`
	IsActive      bool            `json:"is_active"`

	Triggered      bool                `json:"triggered"`
	TriggeredAt    *time.Time          `json:"triggered_at"`
	TriggeredPrice decimal.NullDecimal `json:"triggered_price"`

	CurrentPrice   decimal.Decimal `json:"current_price"`
	LastPriceCheck *time.Time      `json:"last_price_check"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Hit reports whether the observed price satisfies the target condition.
// Both boundaries are inclusive: an observed price exactly at the target
// fires for either kind.
func (t *PriceTarget) Hit(observed decimal.Decimal) bool {
	switch t.AlertKind {
	case AlertAbove:
		return observed.GreaterThanOrEqual(t.TargetPrice)
	case AlertBelow:
		return observed.LessThanOrEqual(t.TargetPrice)
	default:
		return false
	}
}

// Validate checks the fields a caller must provide when creating a target.
func (t *PriceTarget) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return fmt.Errorf("ticker is required")
	}
	if !t.TargetPrice.IsPositive() {
		return fmt.Errorf("target price must be a positive number")
	}
	if _, err := ParseAlertKind(string(t.AlertKind)); err != nil {
		return err
	}
	if strings.TrimSpace(t.WatchlistID) == "" {
		return fmt.Errorf("watchlist_id is required")
	}
	return nil
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// NotificationRecord is one entry in the notification history log, appended
// after an alert has been dispatched.
type NotificationRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"-"`
	TargetID      string          `json:"target_id"`
	Ticker        string          `json:"ticker"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	AlertKind     AlertKind       `json:"alert_type"`
	WatchlistID   string          `json:"watchlist_id"`
	WatchlistName string          `json:"watchlist_name"`
	SentAt        time.Time       `json:"sent_at"`
	Status        string          `json:"status"`
}

// Endpoint is a registered notification delivery destination for a user.
type Endpoint struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	URL       string    `json:"url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
