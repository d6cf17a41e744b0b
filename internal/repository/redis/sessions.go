package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	redisx "github.com/ticketvia/seatlease/internal/redis"
)

// SessionIndex mirrors holder -> seat associations so a returning session
// can cheaply ask "what do I hold" without a table scan. It is a derived
// view of the lease store, never authoritative: entries carry a TTL and the
// tracker reconciles against the store on every restore.
type SessionIndex struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionIndex(rdb *redis.Client, ttl time.Duration) *SessionIndex {
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &SessionIndex{rdb: rdb, ttl: ttl}
}

func (s *SessionIndex) Add(ctx context.Context, tenantID string, functionID int64, holder, seatID string) error {
	key := redisx.KeyHolderSeats(tenantID, functionID, holder)

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, seatID)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)

	return err
}

func (s *SessionIndex) Remove(ctx context.Context, tenantID string, functionID int64, holder string, seatIDs ...string) error {
	if len(seatIDs) == 0 {
		return nil
	}

	members := make([]any, len(seatIDs))
	for i, id := range seatIDs {
		members[i] = id
	}

	return s.rdb.SRem(ctx, redisx.KeyHolderSeats(tenantID, functionID, holder), members...).Err()
}

func (s *SessionIndex) Members(ctx context.Context, tenantID string, functionID int64, holder string) ([]string, error) {
	return s.rdb.SMembers(ctx, redisx.KeyHolderSeats(tenantID, functionID, holder)).Result()
}

func (s *SessionIndex) Clear(ctx context.Context, tenantID string, functionID int64, holder string) error {
	return s.rdb.Del(ctx, redisx.KeyHolderSeats(tenantID, functionID, holder)).Err()
}
