// Package session caches authentication tickets issued for a principal and
// credential pair.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTicketNotFound = errors.New("ticket not found or expired")

// TicketData holds the data stored for each credential hash
type TicketData struct {
	Principal string    `json:"principal"`
	Ticket    string    `json:"ticket"`
	IssuedAt  time.Time `json:"issued_at"`
}

// RedisStore implements ticket storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed ticket store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "ticket:",
	}
}

func (s *RedisStore) key(credentialHash string) string {
	return s.prefix + credentialHash
}

// SaveTicket stores a ticket until expiresAt. Past expiries fall back to one
// hour.
func (s *RedisStore) SaveTicket(ctx context.Context, credentialHash, principal, ticket string, expiresAt time.Time) error {
	data := TicketData{
		Principal: principal,
		Ticket:    ticket,
		IssuedAt:  time.Now().UTC(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal ticket data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Hour
	}

	if err := s.client.Set(ctx, s.key(credentialHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// LookupTicket returns the cached ticket or ErrTicketNotFound.
func (s *RedisStore) LookupTicket(ctx context.Context, credentialHash string) (TicketData, error) {
	jsonData, err := s.client.Get(ctx, s.key(credentialHash)).Result()
	if errors.Is(err, redis.Nil) {
		return TicketData{}, ErrTicketNotFound
	}
	if err != nil {
		return TicketData{}, fmt.Errorf("lookup ticket: %w", err)
	}

	var data TicketData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return TicketData{}, fmt.Errorf("unmarshal ticket data: %w", err)
	}
	return data, nil
}

// RevokeTicket deletes a cached ticket
func (s *RedisStore) RevokeTicket(ctx context.Context, credentialHash string) error {
	if err := s.client.Del(ctx, s.key(credentialHash)).Err(); err != nil {
		return fmt.Errorf("revoke ticket: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
