package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"whalewatch/internal/config"
)

type Client struct {
	*goredis.Client

	prefix string
}

func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{Client: rdb, prefix: cfg.Prefix}, nil
}

// Key applies the configured namespace prefix to a store key
func (c *Client) Key(suffix string) string {
	return c.prefix + suffix
}
