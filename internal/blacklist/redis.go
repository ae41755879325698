package blacklist

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPersister keeps each namespace in its own Redis set.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

func NewRedisPersister(addr, password string, db int, prefix string) *RedisPersister {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPersister{client: client, prefix: prefix}
}

// Ensure RedisPersister implements the Persister interface
var _ Persister = (*RedisPersister)(nil)

func (p *RedisPersister) tokensKey() string  { return p.prefix + ":tokens" }
func (p *RedisPersister) issuersKey() string { return p.prefix + ":issuers" }

// Ping checks connectivity; an unreachable backend is a startup error.
func (p *RedisPersister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersister) Load(ctx context.Context) (Snapshot, error) {
	pipe := p.client.Pipeline()
	tokens := pipe.SMembers(ctx, p.tokensKey())
	issuers := pipe.SMembers(ctx, p.issuersKey())
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("failed to load blacklist sets: %w", err)
	}
	return Snapshot{Tokens: tokens.Val(), Issuers: issuers.Val()}, nil
}

// Save adds every member; the sets only ever grow so nothing is removed.
func (p *RedisPersister) Save(ctx context.Context, snap Snapshot) error {
	if len(snap.Tokens) == 0 && len(snap.Issuers) == 0 {
		return nil
	}
	pipe := p.client.TxPipeline()
	if len(snap.Tokens) > 0 {
		pipe.SAdd(ctx, p.tokensKey(), toArgs(snap.Tokens)...)
	}
	if len(snap.Issuers) > 0 {
		pipe.SAdd(ctx, p.issuersKey(), toArgs(snap.Issuers)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save blacklist sets: %w", err)
	}
	return nil
}

func (p *RedisPersister) Close() error {
	return p.client.Close()
}

func toArgs(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
