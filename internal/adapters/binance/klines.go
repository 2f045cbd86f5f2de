package binance

// klines.go — velas OHLCV del mercado spot de Binance.
//
// Implementa ports.CandleProvider. Solo lectura pública, sin API key.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

const (
	defaultBase = "https://api.binance.com"

	// Binance permite 1200 weight/min; /klines pesa 2. Nos autolimitamos.
	klinesRatePerSec = 5

	defaultInterval = "1h"
	maxLimit        = 500
)

// Client obtiene velas de la API pública de Binance.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient crea el cliente. base vacío usa el endpoint de producción.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(klinesRatePerSec, 5),
	}
}

// RecentCandles devuelve las últimas limit velas horarias del par
// asset/USDT, de la más antigua a la más reciente.
func (c *Client) RecentCandles(ctx context.Context, asset string, limit int) ([]domain.Candle, error) {
	if limit <= 0 || limit > maxLimit {
		limit = 24
	}
	symbol := strings.ToUpper(asset) + "USDT"

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance.RecentCandles: rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.base, symbol, defaultInterval, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance.RecentCandles: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance.RecentCandles: %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("binance.RecentCandles: %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	// Cada kline es un array posicional:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance.RecentCandles: decode: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candle, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance.RecentCandles: %s: %w", symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline convierte un kline posicional en una vela.
func parseKline(k []json.RawMessage) (domain.Candle, error) {
	var openTime int64
	if err := json.Unmarshal(k[0], &openTime); err != nil {
		return domain.Candle{}, fmt.Errorf("open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(k[i], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("field %d %q: %w", i, s, err)
		}
		fields[i-1] = f
	}

	return domain.Candle{
		OpenTime: time.UnixMilli(openTime).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}
