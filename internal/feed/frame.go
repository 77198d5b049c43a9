package feed

import (
	"github.com/shopspring/decimal"
)

// updateEnvelope is the only inbound frame shape the client acts on. Any
// other envelope (acks, heartbeats, unknown types) is ignored.
//
//	{"status": "success", "type": "trade", "data": {"AAPL": {...}}}
type updateEnvelope struct {
	Status string               `json:"status"`
	Type   string               `json:"type"`
	Data   map[string]tradeData `json:"data"`
}

type tradeData struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Volume      float64         `json:"volume"`
	Timestamp   float64         `json:"timestamp"`
	DateTimeUTC string          `json:"date_time_utc"`
}

func (e *updateEnvelope) isTradeUpdate() bool {
	return e.Status == "success" && e.Type == "trade" && len(e.Data) > 0
}
