package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
)

const (
	KrakenBaseURL    = "https://api.kraken.com"
	krakenAPIVersion = "0"
)

// Kraken implements domain.Exchange against the Kraken spot REST API.
type Kraken struct {
	apiKey  string
	secret  []byte // base64-decoded API secret
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	lastNonce int64
	pairCache map[string]domain.PairInfo
}

func NewKraken(apiKey, apiSecret, baseURL string) (*Kraken, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid kraken api secret: %w", err)
	}
	if baseURL == "" {
		baseURL = KrakenBaseURL
	}
	return &Kraken{
		apiKey:  apiKey,
		secret:  secret,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (k *Kraken) Name() string { return "kraken" }

// nextNonce returns a strictly increasing nonce, even when two requests
// land within the same millisecond.
func (k *Kraken) nextNonce() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= k.lastNonce {
		n = k.lastNonce + 1
	}
	k.lastNonce = n
	return n
}

// sign computes the Kraken API signature:
// HMAC-SHA512(urlpath + SHA256(nonce + postdata), base64-decoded secret),
// base64-encoded.
func (k *Kraken) sign(urlPath string, nonce int64, postdata string) string {
	inner := sha256.Sum256([]byte(strconv.FormatInt(nonce, 10) + postdata))
	mac := hmac.New(sha512.New, k.secret)
	mac.Write([]byte(urlPath))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (k *Kraken) request(ctx context.Context, urlPath string, data url.Values, out any) error {
	if data == nil {
		data = url.Values{}
	}
	nonce := k.nextNonce()
	data.Set("nonce", strconv.FormatInt(nonce, 10))
	postdata := data.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+urlPath, strings.NewReader(postdata))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.apiKey)
	req.Header.Set("API-Sign", k.sign(urlPath, nonce, postdata))

	resp, err := k.client.Do(req)
	if err != nil {
		return &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindTransient, Err: err}
	}
	defer resp.Body.Close()

	var env krakenEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindTransient, Err: err}
	}
	if len(env.Error) > 0 {
		msg := strings.Join(env.Error, "; ")
		kind := domain.ErrKindRejected
		if strings.Contains(strings.ToLower(msg), "rate limit") || strings.Contains(msg, "EAPI:Too many requests") {
			kind = domain.ErrKindRateLimited
		}
		return &domain.APIError{Exchange: "kraken", Kind: kind, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindTransient, Err: err}
		}
	}
	return nil
}

func (k *Kraken) GetBalance(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/Balance", nil, &raw); err != nil {
		return nil, err
	}
	balances := make(map[string]float64, len(raw))
	for currency, amount := range raw {
		v, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			continue
		}
		balances[currency] = v
	}
	return balances, nil
}

func (k *Kraken) GetTradeBalance(ctx context.Context) (*domain.TradeBalance, error) {
	var raw struct {
		Equity      string `json:"e"`
		MarginLevel string `json:"ml"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/TradeBalance", nil, &raw); err != nil {
		return nil, err
	}
	tb := &domain.TradeBalance{}
	tb.Equity, _ = strconv.ParseFloat(raw.Equity, 64)
	tb.MarginLevel, _ = strconv.ParseFloat(raw.MarginLevel, 64)
	return tb, nil
}

func (k *Kraken) GetTradablePairs(ctx context.Context) (map[string]domain.PairInfo, error) {
	var raw map[string]struct {
		Base         string `json:"base"`
		Quote        string `json:"quote"`
		OrderMin     string `json:"ordermin"`
		PairDecimals int    `json:"pair_decimals"`
		LotDecimals  int    `json:"lot_decimals"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/public/AssetPairs", nil, &raw); err != nil {
		return nil, err
	}
	pairs := make(map[string]domain.PairInfo, len(raw))
	for name, info := range raw {
		ordermin, _ := strconv.ParseFloat(info.OrderMin, 64)
		pairs[name] = domain.PairInfo{
			Base:         info.Base,
			Quote:        info.Quote,
			OrderMin:     ordermin,
			PairDecimals: info.PairDecimals,
			LotDecimals:  info.LotDecimals,
		}
	}
	k.mu.Lock()
	k.pairCache = pairs
	k.mu.Unlock()
	return pairs, nil
}

func (k *Kraken) GetTicker(ctx context.Context, pair string) (*domain.Ticker, error) {
	exchangePair := k.PairFormat(pair)
	data := url.Values{"pair": {exchangePair}}
	var raw map[string]struct {
		C []string `json:"c"` // last trade: [price, lot volume]
		V []string `json:"v"` // volume: [today, last 24h]
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/public/Ticker", data, &raw); err != nil {
		return nil, err
	}
	for _, t := range raw {
		ticker := &domain.Ticker{Pair: pair}
		if len(t.C) > 0 {
			ticker.LastPrice, _ = strconv.ParseFloat(t.C[0], 64)
		}
		if len(t.V) > 1 {
			ticker.QuoteVolume24h, _ = strconv.ParseFloat(t.V[1], 64)
		}
		return ticker, nil
	}
	return nil, &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindRejected,
		Message: fmt.Sprintf("no ticker data for %s", pair)}
}

func (k *Kraken) GetOrderBook(ctx context.Context, pair string, depth int) (*domain.OrderBook, error) {
	exchangePair := k.PairFormat(pair)
	data := url.Values{
		"pair":  {exchangePair},
		"count": {strconv.Itoa(depth)},
	}
	var raw map[string]struct {
		Bids [][]json.Number `json:"bids"`
		Asks [][]json.Number `json:"asks"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/public/Depth", data, &raw); err != nil {
		return nil, err
	}
	for _, book := range raw {
		return &domain.OrderBook{
			Pair: pair,
			Bids: parseBookLevels(book.Bids, depth),
			Asks: parseBookLevels(book.Asks, depth),
		}, nil
	}
	return nil, &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindRejected,
		Message: fmt.Sprintf("no order book data for %s", pair)}
}

func parseBookLevels(raw [][]json.Number, depth int) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, depth)
	for i, entry := range raw {
		if i >= depth || len(entry) < 2 {
			break
		}
		price, _ := entry[0].Float64()
		volume, _ := entry[1].Float64()
		levels = append(levels, domain.BookLevel{Price: price, Volume: volume})
	}
	return levels
}

func (k *Kraken) GetRecentTrades(ctx context.Context, pair string, limit int) ([]domain.PublicTrade, error) {
	exchangePair := k.PairFormat(pair)
	data := url.Values{"pair": {exchangePair}}
	var raw map[string]json.RawMessage
	if err := k.request(ctx, "/"+krakenAPIVersion+"/public/Trades", data, &raw); err != nil {
		return nil, err
	}
	for key, msg := range raw {
		if key == "last" {
			continue
		}
		var entries [][]json.Number
		if err := json.Unmarshal(msg, &entries); err != nil {
			continue
		}
		trades := make([]domain.PublicTrade, 0, len(entries))
		for _, e := range entries {
			if len(e) < 3 {
				continue
			}
			price, _ := e[0].Float64()
			volume, _ := e[1].Float64()
			ts, _ := e[2].Float64()
			trades = append(trades, domain.PublicTrade{
				Price:  price,
				Volume: volume,
				Time:   time.Unix(int64(ts), 0),
			})
		}
		if limit > 0 && len(trades) > limit {
			trades = trades[len(trades)-limit:]
		}
		return trades, nil
	}
	return nil, nil
}

func (k *Kraken) placeOrder(ctx context.Context, pair string, side domain.Side, volume, price float64, leverage int) (string, error) {
	exchangePair := k.PairFormat(pair)
	data := url.Values{
		"pair":      {exchangePair},
		"type":      {string(side)},
		"ordertype": {"limit"},
		"price":     {strconv.FormatFloat(price, 'f', -1, 64)},
		"volume":    {strconv.FormatFloat(volume, 'f', -1, 64)},
	}
	if leverage > 1 {
		data.Set("leverage", fmt.Sprintf("%d:1", leverage))
		data.Set("oflags", "fciq")
	}
	var raw struct {
		TxID []string `json:"txid"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/AddOrder", data, &raw); err != nil {
		return "", err
	}
	if len(raw.TxID) == 0 {
		return "", &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindRejected, Message: "order accepted without txid"}
	}
	return raw.TxID[0], nil
}

func (k *Kraken) PlaceBuyOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error) {
	return k.placeOrder(ctx, pair, domain.SideBuy, volume, price, leverage)
}

func (k *Kraken) PlaceSellOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error) {
	return k.placeOrder(ctx, pair, domain.SideSell, volume, price, leverage)
}

type krakenOrderInfo struct {
	OpenTime  float64 `json:"opentm"`
	CloseTime float64 `json:"closetm"`
	Status    string  `json:"status"`
	Volume    string  `json:"vol"`
	VolExec   string  `json:"vol_exec"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
	Price     string  `json:"price"`
	Descr     struct {
		Pair  string `json:"pair"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"descr"`
}

func (k *Kraken) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var raw struct {
		Open map[string]krakenOrderInfo `json:"open"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/OpenOrders", nil, &raw); err != nil {
		return nil, err
	}
	orders := make([]domain.OpenOrder, 0, len(raw.Open))
	for txid, info := range raw.Open {
		// The top-level price of a resting limit order is 0 on Kraken;
		// the limit price lives in descr.
		price, _ := strconv.ParseFloat(info.Descr.Price, 64)
		volume, _ := strconv.ParseFloat(info.Volume, 64)
		volExec, _ := strconv.ParseFloat(info.VolExec, 64)
		orders = append(orders, domain.OpenOrder{
			ID:         txid,
			Pair:       k.NormalizePair(info.Descr.Pair),
			Side:       domain.Side(info.Descr.Type),
			Price:      price,
			Volume:     volume,
			VolumeExec: volExec,
			OpenedAt:   time.Unix(int64(info.OpenTime), 0),
		})
	}
	return orders, nil
}

func (k *Kraken) GetClosedOrders(ctx context.Context, since time.Time) ([]domain.ClosedOrder, error) {
	data := url.Values{}
	if !since.IsZero() {
		data.Set("start", strconv.FormatInt(since.Unix(), 10))
	}
	var raw struct {
		Closed map[string]krakenOrderInfo `json:"closed"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/ClosedOrders", data, &raw); err != nil {
		return nil, err
	}
	orders := make([]domain.ClosedOrder, 0, len(raw.Closed))
	for txid, info := range raw.Closed {
		price, _ := strconv.ParseFloat(info.Price, 64)
		volume, _ := strconv.ParseFloat(info.Volume, 64)
		volExec, _ := strconv.ParseFloat(info.VolExec, 64)
		cost, _ := strconv.ParseFloat(info.Cost, 64)
		fee, _ := strconv.ParseFloat(info.Fee, 64)
		orders = append(orders, domain.ClosedOrder{
			ID:         txid,
			Pair:       k.NormalizePair(info.Descr.Pair),
			Side:       domain.Side(info.Descr.Type),
			Price:      price,
			Volume:     volume,
			VolumeExec: volExec,
			Cost:       cost,
			Fee:        fee,
			Status:     info.Status,
			ClosedAt:   time.Unix(int64(info.CloseTime), 0),
		})
	}
	return orders, nil
}

func (k *Kraken) CancelOrder(ctx context.Context, orderID string) error {
	data := url.Values{"txid": {orderID}}
	var raw struct {
		Count int `json:"count"`
	}
	if err := k.request(ctx, "/"+krakenAPIVersion+"/private/CancelOrder", data, &raw); err != nil {
		return err
	}
	if raw.Count == 0 {
		return &domain.APIError{Exchange: "kraken", Kind: domain.ErrKindRejected,
			Message: fmt.Sprintf("cancel of %s affected no orders", orderID)}
	}
	return nil
}

// NormalizePair converts any supported spelling to canonical form.
// Kraken already uses no separator, so only underscores are stripped.
func (k *Kraken) NormalizePair(pair string) string {
	return strings.ReplaceAll(pair, "_", "")
}

func (k *Kraken) PairFormat(pair string) string {
	return k.NormalizePair(pair)
}

// krakenCurrencyFallback maps common base currencies to Kraken's legacy
// asset codes when the pair is absent from the asset-pairs cache.
var krakenCurrencyFallback = map[string]string{
	"BTC": "XXBT", "ETH": "XETH", "LTC": "XLTC", "XRP": "XXRP",
	"ADA": "ADA", "DOT": "DOT", "SOL": "SOL", "XDG": "XXDG",
	"ALGO": "ALGO", "KAS": "KAS", "SHIB": "SHIB",
}

func (k *Kraken) CurrencyCode(ctx context.Context, pair string) string {
	k.mu.Lock()
	cache := k.pairCache
	k.mu.Unlock()
	if cache == nil {
		if pairs, err := k.GetTradablePairs(ctx); err == nil {
			cache = pairs
		}
	}
	exchangePair := k.PairFormat(pair)
	if info, ok := cache[exchangePair]; ok && info.Base != "" {
		return info.Base
	}

	base := baseCurrency(k.NormalizePair(pair))
	if code, ok := krakenCurrencyFallback[base]; ok {
		return code
	}
	return "X" + base
}

// baseCurrency strips a known quote suffix from a canonical pair.
func baseCurrency(pair string) string {
	for _, quote := range []string{"USDT", "USD", "EUR", "GBP", "BTC", "ETH"} {
		if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
			return pair[:len(pair)-len(quote)]
		}
	}
	return pair
}
