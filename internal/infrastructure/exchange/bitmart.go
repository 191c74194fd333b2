package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
)

const BitMartBaseURL = "https://api-cloud.bitmart.com"

// BitMart implements domain.Exchange against the BitMart spot REST API.
type BitMart struct {
	apiKey    string
	apiSecret string
	memo      string
	baseURL   string
	client    *http.Client
}

func NewBitMart(apiKey, apiSecret, memo, baseURL string) *BitMart {
	if baseURL == "" {
		baseURL = BitMartBaseURL
	}
	return &BitMart{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		memo:      memo,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BitMart) Name() string { return "bitmart" }

// sign computes the BitMart signature: hex HMAC-SHA256 over
// "timestamp#memo#body" with the API secret.
func (b *BitMart) sign(timestamp, body string) string {
	message := timestamp + "#" + b.memo + "#" + body
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

type bitmartEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (b *BitMart) request(ctx context.Context, method, path string, payload any, signed bool, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BM-KEY", b.apiKey)
		req.Header.Set("X-BM-TIMESTAMP", timestamp)
		req.Header.Set("X-BM-SIGN", b.sign(timestamp, string(body)))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindTransient, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindRateLimited,
			Message: "HTTP 429: " + string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindRejected,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, respBody)}
	}

	var env bitmartEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindTransient, Err: err}
	}
	if env.Code != 1000 {
		kind := domain.ErrKindRejected
		if strings.Contains(strings.ToLower(env.Message), "rate") || env.Code == 30007 {
			kind = domain.ErrKindRateLimited
		}
		return &domain.APIError{Exchange: "bitmart", Kind: kind,
			Message: fmt.Sprintf("code %d: %s", env.Code, env.Message)}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindTransient, Err: err}
		}
	}
	return nil
}

func (b *BitMart) GetBalance(ctx context.Context) (map[string]float64, error) {
	var raw struct {
		Wallet []struct {
			ID        string `json:"id"`
			Available string `json:"available"`
		} `json:"wallet"`
	}
	if err := b.request(ctx, http.MethodGet, "/spot/v1/wallet", nil, true, &raw); err != nil {
		return nil, err
	}
	balances := make(map[string]float64, len(raw.Wallet))
	for _, w := range raw.Wallet {
		available, err := strconv.ParseFloat(w.Available, 64)
		if err != nil {
			continue
		}
		balances[w.ID] = available
	}
	return balances, nil
}

// GetTradeBalance is unsupported: the bot only trades BitMart spot.
func (b *BitMart) GetTradeBalance(ctx context.Context) (*domain.TradeBalance, error) {
	return nil, domain.ErrUnsupported
}

func (b *BitMart) GetTradablePairs(ctx context.Context) (map[string]domain.PairInfo, error) {
	var raw struct {
		Symbols []struct {
			Symbol         string `json:"symbol"`
			BaseCurrency   string `json:"base_currency"`
			QuoteCurrency  string `json:"quote_currency"`
			MinAmount      string `json:"min_buy_amount"`
			PricePrecision int    `json:"price_max_precision"`
			SizePrecision  int    `json:"quote_increment_precision"`
		} `json:"symbols"`
	}
	if err := b.request(ctx, http.MethodGet, "/spot/v1/symbols/details", nil, false, &raw); err != nil {
		return nil, err
	}
	pairs := make(map[string]domain.PairInfo, len(raw.Symbols))
	for _, s := range raw.Symbols {
		minAmount, _ := strconv.ParseFloat(s.MinAmount, 64)
		pairs[s.Symbol] = domain.PairInfo{
			Base:         s.BaseCurrency,
			Quote:        s.QuoteCurrency,
			OrderMin:     minAmount,
			PairDecimals: s.PricePrecision,
			LotDecimals:  s.SizePrecision,
		}
	}
	return pairs, nil
}

func (b *BitMart) GetTicker(ctx context.Context, pair string) (*domain.Ticker, error) {
	exchangePair := b.PairFormat(pair)
	var raw struct {
		Last        string `json:"last"`
		QuoteVolume string `json:"qv_24h"`
	}
	path := "/spot/quotation/v3/ticker?symbol=" + exchangePair
	if err := b.request(ctx, http.MethodGet, path, nil, false, &raw); err != nil {
		return nil, err
	}
	ticker := &domain.Ticker{Pair: pair}
	ticker.LastPrice, _ = strconv.ParseFloat(raw.Last, 64)
	ticker.QuoteVolume24h, _ = strconv.ParseFloat(raw.QuoteVolume, 64)
	return ticker, nil
}

func (b *BitMart) GetOrderBook(ctx context.Context, pair string, depth int) (*domain.OrderBook, error) {
	exchangePair := b.PairFormat(pair)
	var raw struct {
		Bids [][]json.Number `json:"bids"`
		Asks [][]json.Number `json:"asks"`
	}
	path := fmt.Sprintf("/spot/quotation/v3/books?symbol=%s&limit=%d", exchangePair, depth)
	if err := b.request(ctx, http.MethodGet, path, nil, false, &raw); err != nil {
		return nil, err
	}
	return &domain.OrderBook{
		Pair: pair,
		Bids: parseBookLevels(raw.Bids, depth),
		Asks: parseBookLevels(raw.Asks, depth),
	}, nil
}

// GetRecentTrades is unsupported on BitMart; the opportunity gate treats
// the trend as neutral.
func (b *BitMart) GetRecentTrades(ctx context.Context, pair string, limit int) ([]domain.PublicTrade, error) {
	return nil, domain.ErrUnsupported
}

func (b *BitMart) placeOrder(ctx context.Context, pair string, side domain.Side, volume, price float64) (string, error) {
	payload := map[string]string{
		"symbol": b.PairFormat(pair),
		"side":   string(side),
		"type":   "limit",
		"size":   strconv.FormatFloat(volume, 'f', -1, 64),
		"price":  strconv.FormatFloat(price, 'f', -1, 64),
	}
	var raw struct {
		OrderID string `json:"order_id"`
	}
	if err := b.request(ctx, http.MethodPost, "/spot/v2/submit_order", payload, true, &raw); err != nil {
		return "", err
	}
	if raw.OrderID == "" {
		return "", &domain.APIError{Exchange: "bitmart", Kind: domain.ErrKindRejected, Message: "order accepted without order_id"}
	}
	return raw.OrderID, nil
}

func (b *BitMart) PlaceBuyOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error) {
	// leverage is ignored: margin is Kraken-only.
	return b.placeOrder(ctx, pair, domain.SideBuy, volume, price)
}

func (b *BitMart) PlaceSellOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error) {
	return b.placeOrder(ctx, pair, domain.SideSell, volume, price)
}

type bitmartOrder struct {
	OrderID    string `json:"order_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	State      string `json:"state"`
	CreateTime int64  `json:"create_time"` // milliseconds
	UpdateTime int64  `json:"update_time"` // milliseconds
}

func (b *BitMart) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	payload := map[string]any{
		"orderMode": "spot",
		"limit":     100,
	}
	var raw []bitmartOrder
	if err := b.request(ctx, http.MethodPost, "/spot/v4/query/open-orders", payload, true, &raw); err != nil {
		return nil, err
	}
	orders := make([]domain.OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.Size, 64)
		filled, _ := strconv.ParseFloat(o.FilledSize, 64)
		orders = append(orders, domain.OpenOrder{
			ID:         o.OrderID,
			Pair:       b.NormalizePair(o.Symbol),
			Side:       domain.Side(o.Side),
			Price:      price,
			Volume:     size,
			VolumeExec: filled,
			OpenedAt:   time.UnixMilli(o.CreateTime),
		})
	}
	return orders, nil
}

func (b *BitMart) GetClosedOrders(ctx context.Context, since time.Time) ([]domain.ClosedOrder, error) {
	payload := map[string]any{
		"orderMode": "spot",
		"limit":     100,
	}
	if !since.IsZero() {
		payload["startTime"] = since.UnixMilli()
	}
	var raw []bitmartOrder
	if err := b.request(ctx, http.MethodPost, "/spot/v4/query/order-history", payload, true, &raw); err != nil {
		return nil, err
	}
	orders := make([]domain.ClosedOrder, 0, len(raw))
	for _, o := range raw {
		switch o.State {
		case "filled", "FILLED", "FULLY_FILLED":
		default:
			continue
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.Size, 64)
		filled, _ := strconv.ParseFloat(o.FilledSize, 64)
		closedAt := time.UnixMilli(o.UpdateTime)
		if o.UpdateTime == 0 {
			closedAt = time.UnixMilli(o.CreateTime)
		}
		orders = append(orders, domain.ClosedOrder{
			ID:         o.OrderID,
			Pair:       b.NormalizePair(o.Symbol),
			Side:       domain.Side(o.Side),
			Price:      price,
			Volume:     size,
			VolumeExec: filled,
			Cost:       price * filled,
			Status:     "closed",
			ClosedAt:   closedAt,
		})
	}
	return orders, nil
}

func (b *BitMart) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]string{"order_id": orderID}
	return b.request(ctx, http.MethodPost, "/spot/v3/cancel_order", payload, true, nil)
}

// NormalizePair converts BitMart's underscore spelling to canonical form:
// BTC_USDT -> BTCUSDT.
func (b *BitMart) NormalizePair(pair string) string {
	return strings.ReplaceAll(pair, "_", "")
}

// PairFormat converts a canonical pair to BitMart's underscore spelling:
// BTCUSDT -> BTC_USDT. Pairs already containing an underscore pass through.
func (b *BitMart) PairFormat(pair string) string {
	if strings.Contains(pair, "_") {
		return pair
	}
	for _, quote := range []string{"USDT", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
			return pair[:len(pair)-len(quote)] + "_" + quote
		}
	}
	return pair
}

func (b *BitMart) CurrencyCode(ctx context.Context, pair string) string {
	if i := strings.Index(pair, "_"); i > 0 {
		return pair[:i]
	}
	return baseCurrency(b.NormalizePair(pair))
}
