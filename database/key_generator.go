package database

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xompass/vsaas-relations/helpers"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// KeyGenerator produces primary keys for new documents of a collection.
type KeyGenerator interface {
	NextKey(ctx context.Context, collection string) (any, error)
}

type ObjectIDGenerator struct{}

func (ObjectIDGenerator) NextKey(context.Context, string) (any, error) {
	return bson.NewObjectID(), nil
}

// UUIDGenerator produces random UUID strings, for KeyString models.
type UUIDGenerator struct{}

func (UUIDGenerator) NextKey(context.Context, string) (any, error) {
	return uuid.NewString(), nil
}

// RedisSequence produces increasing int64 keys from one redis counter per
// collection, for KeyInt models.
type RedisSequence struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSequence(client redis.UniversalClient) *RedisSequence {
	return &RedisSequence{client: client, prefix: "seq:"}
}

// NewDefaultRedisSequence reads REDIS_ADDR, REDIS_PASSWORD and REDIS_DB.
func NewDefaultRedisSequence() *RedisSequence {
	client := redis.NewClient(&redis.Options{
		Addr:     helpers.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: helpers.GetEnv("REDIS_PASSWORD", ""),
		DB:       helpers.GetEnvInt("REDIS_DB", 0),
	})
	return NewRedisSequence(client)
}

func (s *RedisSequence) NextKey(ctx context.Context, collection string) (any, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis sequence is not initialized")
	}
	next, err := s.client.Incr(ctx, s.prefix+collection).Result()
	if err != nil {
		return nil, errors.Errorf("failed to generate key for %s: %w", collection, err)
	}
	return next, nil
}

func (s *RedisSequence) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
