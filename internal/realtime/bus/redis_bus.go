package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agri-price/internal/logger"
	"agri-price/internal/realtime"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBus carries change events over a redis pub/sub channel so every
// instance of the service sees writes made by the others.
type RedisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(redisURL, channel string, log *logger.Logger) (*RedisBus, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("missing REDIS_URL")
	}
	if channel == "" {
		channel = "table_changes"
	}

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		opt = &goredis.Options{Addr: redisURL}
	}
	opt.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		log:     log.With("service", "RedisChangeBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) Listen(ctx context.Context, ready func(), onEvent func(realtime.ChangeEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	if ready != nil {
		ready()
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return errors.New("redis subscription closed")
			}
			ev, err := realtime.Decode([]byte(m.Payload))
			if err != nil {
				b.log.Warn("bad redis change payload", "error", err)
				continue
			}
			onEvent(ev)
		}
	}
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
