// Package bybit implements model.Provider on the Bybit v5 public market-data
// API: paginated one-minute klines and the live ticker.
package bybit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/skyi28/ML-Trader/internal/model"
)

const (
	// MaxLimit is the most klines Bybit returns per request.
	MaxLimit = 1000

	klinePath  = "/v5/market/mark-price-kline"
	tickerPath = "/v5/market/tickers"
)

// Config configures the REST client.
type Config struct {
	BaseURL  string        // e.g. "https://api.bybit.com"
	Category string        // "inverse", "linear" or "spot"
	Timeout  time.Duration // per request; default 10s
}

// Client is a Bybit REST client.
type Client struct {
	baseURL  string
	category string
	http     *http.Client

	// OnRequest, when set, observes every request (for metrics).
	OnRequest func(endpoint string, d time.Duration, err error)
}

// New creates a client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	category := cfg.Category
	if category == "" {
		category = "inverse"
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		category: category,
		http:     &http.Client{Timeout: timeout},
	}
}

// MaxLimit implements model.Provider.
func (c *Client) MaxLimit() int { return MaxLimit }

// Bars returns at most limit bars with start <= ts <= end in ascending order.
func (c *Client) Bars(ctx context.Context, instrument string, start, end time.Time, resolution time.Duration, limit int) ([]model.Bar, error) {
	interval, err := intervalParam(resolution)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", instrument)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))

	res, err := c.get(ctx, klinePath, q)
	if err != nil {
		return nil, fmt.Errorf("bybit klines %s: %w", instrument, err)
	}

	// Bybit lists newest first: [startMs, open, high, low, close].
	list := res.Get("result.list").Array()
	bars := make([]model.Bar, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		row := list[i].Array()
		if len(row) < 5 {
			return nil, fmt.Errorf("bybit klines %s: malformed row %s", instrument, list[i].Raw)
		}
		ts := time.UnixMilli(row[0].Int()).UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		bars = append(bars, model.Bar{
			Instrument: instrument,
			TS:         ts,
			Open:       row[1].Float(),
			Close:      row[4].Float(),
		})
	}
	return bars, nil
}

// Tick returns the current ticker snapshot.
func (c *Client) Tick(ctx context.Context, instrument string) (model.Tick, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", instrument)

	res, err := c.get(ctx, tickerPath, q)
	if err != nil {
		return model.Tick{}, fmt.Errorf("bybit ticker %s: %w", instrument, err)
	}
	item := res.Get("result.list.0")
	if !item.Exists() {
		return model.Tick{}, fmt.Errorf("bybit ticker %s: empty list", instrument)
	}
	tick := parseTicker(instrument, item)
	tick.ObservedAt = time.Now().UTC()
	return tick, nil
}

func parseTicker(instrument string, item gjson.Result) model.Tick {
	return model.Tick{
		Instrument: instrument,
		LastPrice:  item.Get("lastPrice").Float(),
		BidPrice:   item.Get("bid1Price").Float(),
		AskPrice:   item.Get("ask1Price").Float(),
		BidSize:    item.Get("bid1Size").Float(),
		AskSize:    item.Get("ask1Size").Float(),
		Change24h:  item.Get("price24hPcnt").Float(),
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (res gjson.Result, err error) {
	start := time.Now()
	defer func() {
		if c.OnRequest != nil {
			c.OnRequest(path, time.Since(start), err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid json: %s", truncate(body, 200))
	}

	res = gjson.ParseBytes(body)
	if code := res.Get("retCode").Int(); code != 0 {
		return gjson.Result{}, fmt.Errorf("retCode %d: %s", code, res.Get("retMsg").String())
	}
	return res, nil
}

// intervalParam converts a resolution into Bybit's interval parameter.
func intervalParam(d time.Duration) (string, error) {
	switch {
	case d == 24*time.Hour:
		return "D", nil
	case d >= time.Minute && d%time.Minute == 0 && d <= 12*time.Hour:
		return strconv.Itoa(int(d / time.Minute)), nil
	default:
		return "", fmt.Errorf("bybit: unsupported resolution %v", d)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
