package models

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// TradeCSVColumns is the fixed column order used by the Historical Crawl
// Engine's CSV writer, matching the vendor's own field superset.
var TradeCSVColumns = []string{
	"id", "date", "time", "action", "code", "price", "change", "lot",
	"buyer", "seller", "trade_number", "buyer_type", "seller_type", "market_board",
}

// RunningTrade is one row of the vendor's running-trade feed. TradeNumber is
// the opaque pagination cursor: monotonic within a single day, traversed in
// descending order by the REST Fetcher.
type RunningTrade struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Action      string          `json:"action"`
	Code        string          `json:"code"`
	Price       decimal.Decimal `json:"price"`
	Change      string          `json:"change"`
	Lot         int64           `json:"lot"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	TradeNumber int64           `json:"trade_number"`
	BuyerType   string          `json:"buyer_type"`
	SellerType  string          `json:"seller_type"`
	MarketBoard string          `json:"market_board"`
}

// Row renders the trade as a CSV record in TradeCSVColumns order.
func (r RunningTrade) Row() []string {
	return []string{
		r.ID, r.Date, r.Time, r.Action, r.Code,
		r.Price.String(), r.Change, strconv.FormatInt(r.Lot, 10),
		r.Buyer, r.Seller, strconv.FormatInt(r.TradeNumber, 10),
		r.BuyerType, r.SellerType, r.MarketBoard,
	}
}
