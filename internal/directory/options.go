// Package directory 提供代理与游戏目录的查询实现，可选 Redis 读穿缓存。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const defaultCacheTTL = 5 * time.Minute

type options struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type Option func(*options)

// WithCache 开启 Redis 缓存；client 为 nil 时等同于不缓存
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(o *options) {
		o.redis = client
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{ttl: defaultCacheTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// cacheGet 命中返回 true；Redis 故障只记日志，回落到数据库
func (o *options) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	if o.redis == nil {
		return false
	}
	raw, err := o.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			o.logger.Warn("读取缓存失败", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		o.logger.Warn("缓存内容无法解析", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (o *options) cacheSet(ctx context.Context, key string, val interface{}) {
	if o.redis == nil {
		return
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := o.redis.Set(ctx, key, raw, o.ttl).Err(); err != nil {
		o.logger.Warn("写入缓存失败", zap.String("key", key), zap.Error(err))
	}
}

func (o *options) cacheDel(ctx context.Context, key string) error {
	if o.redis == nil {
		return nil
	}
	return o.redis.Del(ctx, key).Err()
}
