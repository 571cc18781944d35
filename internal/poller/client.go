// internal/poller/client.go
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/backoff"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// ClientConfig описывает upstream-источник цен.
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// UserAgent обязателен: источник режет анонимные клиенты.
	UserAgent string         `mapstructure:"user_agent"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	Backoff   backoff.Config `mapstructure:"backoff"`
}

// ApplyDefaults устанавливает значения по умолчанию.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Validate проверяет корректность конфигурации.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("upstream: base_url is required")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("upstream: user_agent is required")
	}
	return nil
}

// Client — HTTP-клиент фида цен: /latest, /{granularity}, /mapping.
// Каждый запрос обёрнут в экспоненциальный backoff.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  *logger.Logger
}

// NewClient создаёт Client.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("upstream"),
	}, nil
}

// -----------------------------------------------------------------------------
// Wire-форматы источника
// -----------------------------------------------------------------------------

type latestResponse struct {
	Data map[string]struct {
		High     *int64 `json:"high"`
		HighTime int64  `json:"highTime"`
		Low      *int64 `json:"low"`
		LowTime  int64  `json:"lowTime"`
	} `json:"data"`
}

type candlesResponse struct {
	Data map[string]struct {
		AvgHigh    *int64 `json:"avgHighPrice"`
		AvgLow     *int64 `json:"avgLowPrice"`
		HighVolume int64  `json:"highPriceVolume"`
		LowVolume  int64  `json:"lowPriceVolume"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

type mappingEntry struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Icon    string `json:"icon"`
	Members bool   `json:"members"`
	Limit   int64  `json:"limit"`
}

// -----------------------------------------------------------------------------
// Запросы
// -----------------------------------------------------------------------------

// Latest возвращает мгновенные цены всего каталога.
func (c *Client) Latest(ctx context.Context) (map[int64]model.ItemInstant, error) {
	var resp latestResponse
	if err := c.getJSON(ctx, "latest", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[int64]model.ItemInstant, len(resp.Data))
	for key, v := range resp.Data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out[id] = model.ItemInstant{High: v.High, HighTime: v.HighTime, Low: v.Low, LowTime: v.LowTime}
	}
	return out, nil
}

// Candles возвращает свечи гранулярности g за один период. ts=0 —
// последний завершённый период источника; возвращаемая метка — начало
// периода, к которому относятся данные.
func (c *Client) Candles(ctx context.Context, g interval.Granularity, ts int64) ([]model.Candle, int64, error) {
	var params url.Values
	if ts > 0 {
		params = url.Values{"timestamp": []string{strconv.FormatInt(ts, 10)}}
	}

	var resp candlesResponse
	if err := c.getJSON(ctx, string(g), params, &resp); err != nil {
		return nil, 0, err
	}

	out := make([]model.Candle, 0, len(resp.Data))
	for key, v := range resp.Data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.Candle{
			ItemID:     id,
			Timestamp:  resp.Timestamp,
			AvgHigh:    v.AvgHigh,
			AvgLow:     v.AvgLow,
			HighVolume: v.HighVolume,
			LowVolume:  v.LowVolume,
		})
	}
	return out, resp.Timestamp, nil
}

// Mapping возвращает каталог предметов.
func (c *Client) Mapping(ctx context.Context) ([]model.Item, error) {
	var entries []mappingEntry
	if err := c.getJSON(ctx, "mapping", nil, &entries); err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, model.Item{
			ID:       e.ID,
			Name:     e.Name,
			Icon:     e.Icon,
			Members:  e.Members,
			BuyLimit: e.Limit,
		})
	}
	return items, nil
}

// getJSON выполняет GET с backoff и декодирует JSON-ответ в dst.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dst any) error {
	endpoint := c.cfg.BaseURL + "/" + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	return backoff.Execute(ctx, c.cfg.Backoff, "upstream-"+path, c.log, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("upstream: build request: %w", err))
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upstream: %s: %w", path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("upstream: %s: status %d", path, resp.StatusCode)
		default:
			// 4xx кроме 429 ретраить бессмысленно.
			return backoff.Permanent(fmt.Errorf("upstream: %s: status %d", path, resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("upstream: %s: decode: %w", path, err)
		}
		return nil
	})
}
