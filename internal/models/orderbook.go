package models

import "github.com/shopspring/decimal"

// Side identifies which side of the book an orderbook level belongs to.
type Side string

const (
	SideBid   Side = "BID"
	SideOffer Side = "OFFER"
)

// Subscription is the per-connect request sent to the vendor's WebSocket
// endpoint. It is regenerated on every connect attempt since TradingKey is
// fetched fresh from a REST endpoint each time.
type Subscription struct {
	UserID     string
	Tickers    []string
	TradingKey string
	Bearer     string
}

// OrderbookLevel is one price rung of a decoded orderbook payload.
type OrderbookLevel struct {
	Price      decimal.Decimal
	Lots       int64
	TotalValue decimal.Decimal
}

// OrderbookFrame is the fully decoded inbound payload for one ticker update.
type OrderbookFrame struct {
	Ticker          string
	Side            Side
	Levels          []OrderbookLevel
	ServerTimestamp string
}
