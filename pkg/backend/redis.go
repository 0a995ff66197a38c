package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds the connection settings for the platform Redis.
type RedisConfig struct {
	Host       string
	Port       string
	Password   string
	MaxRetries int
}

// InitRedisClient connects to Redis, retrying with exponential backoff
// until the connection is confirmed or the retry budget runs out.
func InitRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		Password:     cfg.Password,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	b := backoff.NewExponentialBackOff()
	err := backoff.Retry(
		func() error {
			_, err := client.Ping(ctx).Result()
			if err != nil {
				logrus.Warnf("Redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		backoff.WithMaxRetries(b, uint64(maxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	logrus.Infof("connected to Redis at %s:%s", cfg.Host, cfg.Port)
	return client, nil
}
