// Package rest implements the REST Fetcher: a single blocking GET against
// the running-trade endpoint with the vendor's classification of 401/403/
// 4xx/5xx, grounded on StockbitClient._fetch_page in the Python original.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
	"stockbit-capture/internal/token"
)

const (
	requestTimeout     = 30 * time.Second
	retryBackoffBaseSec = 2.0
)

// PageResult is the classified outcome of one page fetch.
type PageResult struct {
	Success       bool
	Trades        []models.RunningTrade
	IsOpenMarket  bool
	Count         int
	RequiresLogin bool
	StatusCode    int
	Err           error
}

// Fetcher performs running-trade page fetches against a fixed base URL.
type Fetcher struct {
	baseURL string
	client  *http.Client
	store   *token.Store
}

// New constructs a Fetcher against runningTradeURL (e.g.
// https://exodus.stockbit.com/order-trade/running-trade).
func New(runningTradeURL string, store *token.Store) *Fetcher {
	return &Fetcher{
		baseURL: runningTradeURL,
		client:  &http.Client{Timeout: requestTimeout},
		store:   store,
	}
}

type vendorTrade struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Action      string `json:"action"`
	Code        string `json:"code"`
	Price       string `json:"price"`
	Change      string `json:"change"`
	Lot         int64  `json:"lot"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	TradeNumber int64  `json:"trade_number"`
	BuyerType   string `json:"buyer_type"`
	SellerType  string `json:"seller_type"`
	MarketBoard string `json:"market_board"`
}

type vendorResponse struct {
	Data struct {
		RunningTrade []vendorTrade `json:"running_trade"`
		IsOpenMarket bool          `json:"is_open_market"`
	} `json:"data"`
}

// FetchPage fetches one page of running trades. tradeNumber, when non-nil,
// is the pagination cursor (trades strictly before this trade_number).
// Makes at most retryCount attempts in total, retrying only on 5xx/transport
// errors with exponential backoff (1s, 2s, 4s, ...: 2^attempt seconds), per
// the vendor classification in the original client.
func (f *Fetcher) FetchPage(ctx context.Context, ticker, date string, limit int, tradeNumber *int64, retryCount int) PageResult {
	bearer, ok := f.store.GetValid()
	if !ok {
		return PageResult{RequiresLogin: true, Err: stockerr.Wrap(stockerr.ErrAuthInvalid, "no valid bearer token")}
	}

	q := url.Values{}
	q.Set("sort", "DESC")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order_by", "RUNNING_TRADE_ORDER_BY_TIME")
	q.Set("symbols[]", ticker)
	q.Set("date", date)
	if tradeNumber != nil {
		q.Set("trade_number", strconv.FormatInt(*tradeNumber, 10))
	}
	reqURL := f.baseURL + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < retryCount; attempt++ {
		result, retryable, err := f.attempt(ctx, reqURL, bearer)
		if err == nil {
			return result
		}
		lastErr = err
		if !retryable {
			return PageResult{Err: err}
		}
		if attempt < retryCount-1 {
			wait := time.Duration(math.Pow(retryBackoffBaseSec, float64(attempt))) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return PageResult{Err: ctx.Err()}
			}
		}
	}
	return PageResult{Err: stockerr.Wrap(stockerr.ErrTransportTransient, "exhausted %d attempts: %v", retryCount, lastErr)}
}

// attempt performs one HTTP round trip. The second return value reports
// whether the caller should retry; terminal classifications (401/403/4xx)
// are returned directly with retryable=false.
func (f *Fetcher) attempt(ctx context.Context, reqURL, bearer string) (PageResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return PageResult{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if cookies := f.store.Cookies(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return PageResult{}, true, stockerr.Wrap(stockerr.ErrTransportTransient, "request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if markErr := f.store.MarkInvalid(); markErr != nil {
			return PageResult{}, false, markErr
		}
		return PageResult{RequiresLogin: true, StatusCode: resp.StatusCode}, false, nil

	case resp.StatusCode == http.StatusForbidden:
		return PageResult{RequiresLogin: true, StatusCode: resp.StatusCode}, false, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return PageResult{}, false, stockerr.Wrap(stockerr.ErrConfigInvalid, "client error %d: %s", resp.StatusCode, string(body))

	case resp.StatusCode >= 500:
		return PageResult{}, true, stockerr.Wrap(stockerr.ErrTransportTransient, "server error %d", resp.StatusCode)
	}

	var payload vendorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PageResult{}, false, stockerr.Wrap(stockerr.ErrProtocolMalformed, "decode response: %v", err)
	}

	trades := make([]models.RunningTrade, 0, len(payload.Data.RunningTrade))
	for _, vt := range payload.Data.RunningTrade {
		price, _ := decimal.NewFromString(vt.Price)
		trades = append(trades, models.RunningTrade{
			ID: vt.ID, Date: vt.Date, Time: vt.Time, Action: vt.Action, Code: vt.Code,
			Price: price, Change: vt.Change, Lot: vt.Lot, Buyer: vt.Buyer, Seller: vt.Seller,
			TradeNumber: vt.TradeNumber, BuyerType: vt.BuyerType, SellerType: vt.SellerType,
			MarketBoard: vt.MarketBoard,
		})
	}

	return PageResult{
		Success:      true,
		Trades:       trades,
		IsOpenMarket: payload.Data.IsOpenMarket,
		Count:        len(trades),
	}, false, nil
}
