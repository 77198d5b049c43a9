package target

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a target does not exist for the user.
	ErrNotFound = errors.New("price target not found")
	// ErrWatchlistNotFound is returned when a referenced watchlist does
	// not exist.
	ErrWatchlistNotFound = errors.New("watchlist not found")
	// ErrDuplicateTarget is returned when an active target already exists
	// for the ticker in the same watchlist.
	ErrDuplicateTarget = errors.New("active price target already exists for this ticker in this watchlist")
)

// TargetUpdate carries the mutable fields of a price target. Nil fields are
// left unchanged.
type TargetUpdate struct {
	TargetPrice *decimal.Decimal
	AlertKind   *AlertKind
	IsActive    *bool
}

// Store is the document-store contract for price targets and their
// surrounding records. The evaluator only relies on the four core
// operations (ActiveUntriggered, UpdateObservedPrice, MarkTriggered,
// AppendNotificationHistory); the rest serves the HTTP surface.
type Store interface {
	CreateTarget(ctx context.Context, t *PriceTarget) error
	TargetByID(ctx context.Context, userID, targetID string) (*PriceTarget, error)
	TargetsForUser(ctx context.Context, userID, watchlistID string) ([]PriceTarget, error)
	UpdateTarget(ctx context.Context, userID, targetID string, upd TargetUpdate) (*PriceTarget, error)
	DeactivateTarget(ctx context.Context, userID, targetID string) error
	ActiveTargetExists(ctx context.Context, userID, ticker, watchlistID string) (bool, error)
	WatchlistName(ctx context.Context, watchlistID string) (string, error)

	ActiveUntriggered(ctx context.Context, userID string) ([]PriceTarget, error)
	UpdateObservedPrice(ctx context.Context, targetID string, price decimal.Decimal, checkedAt time.Time) error
	MarkTriggered(ctx context.Context, targetID string, price decimal.Decimal, triggeredAt time.Time) error

	AppendNotificationHistory(ctx context.Context, rec *NotificationRecord) error
	NotificationHistory(ctx context.Context, userID string, limit int) ([]NotificationRecord, error)

	ActiveEndpoints(ctx context.Context, userID string) ([]Endpoint, error)
}
