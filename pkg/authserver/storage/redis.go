// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const upstreamTokenKeySegment = "upstream:"

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces keys in a shared Redis, e.g. "discord-oidc:".
	KeyPrefix string

	// TokenTTL is applied to every stored token. Zero means no expiry.
	TokenTTL time.Duration

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisUpstreamTokenStorage implements UpstreamTokenStorage on Redis so that
// several bridge replicas share the subject to token association and tokens
// expire with the configured TTL.
type RedisUpstreamTokenStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisUpstreamTokenStorage connects to Redis and verifies the connection.
func NewRedisUpstreamTokenStorage(ctx context.Context, cfg RedisConfig) (*RedisUpstreamTokenStorage, error) {
	if cfg.Addr == "" {
		return nil, errors.New("invalid redis configuration: addr is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Infow("connected to redis upstream token store", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisUpstreamTokenStorageWithClient(client, cfg.KeyPrefix, cfg.TokenTTL), nil
}

// NewRedisUpstreamTokenStorageWithClient wraps a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisUpstreamTokenStorageWithClient(
	client redis.UniversalClient, keyPrefix string, ttl time.Duration,
) *RedisUpstreamTokenStorage {
	return &RedisUpstreamTokenStorage{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisUpstreamTokenStorage) key(subject string) string {
	return s.keyPrefix + upstreamTokenKeySegment + subject
}

// GetUpstreamToken returns the Discord access token stored for subject.
func (s *RedisUpstreamTokenStorage) GetUpstreamToken(ctx context.Context, subject string) (string, error) {
	token, err := s.client.Get(ctx, s.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: upstream token", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get upstream token: %w", err)
	}
	return token, nil
}

// SetUpstreamToken stores token for subject with the configured TTL.
// SET replaces the previous value atomically.
func (s *RedisUpstreamTokenStorage) SetUpstreamToken(ctx context.Context, subject, token string) error {
	if subject == "" {
		return errors.New("subject cannot be empty")
	}
	if err := s.client.Set(ctx, s.key(subject), token, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store upstream token: %w", err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *RedisUpstreamTokenStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisUpstreamTokenStorage) Close() error {
	return s.client.Close()
}

var _ UpstreamTokenStorage = (*RedisUpstreamTokenStorage)(nil)
