package bus

import (
	"fmt"
	"strings"

	"agri-price/internal/logger"
	"agri-price/internal/realtime"

	"gorm.io/gorm"
)

// Options selects and configures a transport.
type Options struct {
	Transport   string // postgres, redis, local
	Channel     string
	DatabaseURL string
	RedisURL    string
}

// New builds the transport named by opts.Transport.
func New(opts Options, db *gorm.DB, log *logger.Logger) (realtime.Bus, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Transport)) {
	case "redis":
		return NewRedisBus(opts.RedisURL, opts.Channel, log)
	case "postgres", "postgresql":
		if db == nil {
			return nil, fmt.Errorf("postgres transport needs a database handle")
		}
		return NewPostgresBus(db, opts.DatabaseURL, opts.Channel, log), nil
	case "", "local":
		return NewLocalBus(), nil
	}
	return nil, fmt.Errorf("unknown realtime transport %q", opts.Transport)
}
