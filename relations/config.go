package relations

import (
	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize = 500
	MaxBatchSize     = 10000
)

// Config holds the manager settings.
type Config struct {
	Logger *zerolog.Logger
	// EagerOrder orders eager-loaded related documents when the include
	// scope sets no order. Empty keeps the store order.
	EagerOrder string
	// BatchSize caps the number of owner keys sent in one eager-load query.
	BatchSize int
}

func DefaultConfig() Config {
	logger := zerolog.Nop()
	return Config{
		Logger:    &logger,
		BatchSize: DefaultBatchSize,
	}
}

func (c *Config) validate() error {
	if c.Logger == nil {
		logger := zerolog.Nop()
		c.Logger = &logger
	}
	if c.BatchSize < 0 {
		return errors.Errorf("batch size must not be negative, got %d", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	return nil
}
