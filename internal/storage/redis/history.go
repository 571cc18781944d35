// internal/storage/redis/history.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

var tracer = otel.Tracer("storage/redis")

// Config описывает подключение к Redis.
type Config struct {
	URL string `mapstructure:"url"`
	// Window — глубина rolling-лога на (item, side).
	Window int64 `mapstructure:"window"`
	// TTL страхует от вечных ключей исчезнувших предметов.
	TTL time.Duration `mapstructure:"ttl"`
}

// ApplyDefaults устанавливает значения по умолчанию.
func (c *Config) ApplyDefaults() {
	if c.Window <= 0 {
		c.Window = 128
	}
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: url is required")
	}
	return nil
}

// HistoryLog — append-only аудит изменений мгновенных цен: rolling-окно
// последних записей на (item, side). Мгновенные цены в Postgres
// перезаписываются на месте, историю наблюдений держит этот лог.
type HistoryLog struct {
	rdb    *redis.Client
	window int64
	ttl    time.Duration
	log    *logger.Logger
}

// Entry — одна запись лога.
type Entry struct {
	Price      int64 `json:"price"`
	ObservedAt int64 `json:"observed_at"`
}

// New подключается к Redis по конфигурации.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*HistoryLog, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return &HistoryLog{rdb: rdb, window: cfg.Window, ttl: cfg.TTL, log: log.Named("redis")}, nil
}

func historyKey(itemID int64, side model.InstantSide) string {
	return fmt.Sprintf("instant:%d:%s", itemID, side)
}

// Append пишет изменившиеся мгновенные цены в rolling-лог.
// Лог диагностический: ошибка логируется и не прерывает поллер.
func (h *HistoryLog) Append(ctx context.Context, changed []model.PriceInstant) {
	if len(changed) == 0 {
		return
	}
	ctx, span := tracer.Start(ctx, "HistoryLog.Append")
	defer span.End()

	pipe := h.rdb.Pipeline()
	for _, in := range changed {
		b, err := json.Marshal(Entry{Price: in.Price, ObservedAt: in.ObservedAt})
		if err != nil {
			continue
		}
		key := historyKey(in.ItemID, in.Side)
		pipe.LPush(ctx, key, b)
		pipe.LTrim(ctx, key, 0, h.window-1)
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		h.log.WithContext(ctx).Warn("history append failed", zap.Error(err))
	}
}

// Recent возвращает последние записи лога (новые первыми).
func (h *HistoryLog) Recent(ctx context.Context, itemID int64, side model.InstantSide, limit int64) ([]Entry, error) {
	if limit <= 0 || limit > h.window {
		limit = h.window
	}
	vals, err := h.rdb.LRange(ctx, historyKey(itemID, side), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lrange: %w", err)
	}

	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close завершает соединение.
func (h *HistoryLog) Close() error { return h.rdb.Close() }
