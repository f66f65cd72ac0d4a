package bus

import (
	"context"
	"fmt"

	"agri-price/internal/logger"
	"agri-price/internal/realtime"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

// PostgresBus uses LISTEN/NOTIFY. Events are published through the shared
// gorm pool and received on a dedicated pgx connection.
type PostgresBus struct {
	log     *logger.Logger
	dsn     string
	channel string
	db      *gorm.DB
}

func NewPostgresBus(db *gorm.DB, dsn, channel string, log *logger.Logger) *PostgresBus {
	if channel == "" {
		channel = "table_changes"
	}
	return &PostgresBus{
		log:     log.With("service", "PostgresChangeBus"),
		dsn:     dsn,
		channel: channel,
		db:      db,
	}
}

func (b *PostgresBus) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	raw, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", b.channel, string(raw)).Error
}

func (b *PostgresBus) Listen(ctx context.Context, ready func(), onEvent func(realtime.ChangeEvent)) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("postgres listen: %w", err)
	}
	if ready != nil {
		ready()
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("postgres wait for notification: %w", err)
		}
		ev, err := realtime.Decode([]byte(n.Payload))
		if err != nil {
			b.log.Warn("bad postgres change payload", "error", err)
			continue
		}
		onEvent(ev)
	}
}

func (b *PostgresBus) Close() error { return nil }
