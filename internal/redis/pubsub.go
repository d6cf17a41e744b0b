package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ticketvia/seatlease/internal/domain"
)

// LockEventsPubSub propagates lock/release changes to other viewers of the
// same seat map. Delivery is fire-and-forget: lease operations never depend
// on a publish succeeding.
type LockEventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewLockEventsPubSub(rdb *redis.Client) *LockEventsPubSub {
	return &LockEventsPubSub{
		rdb:     rdb,
		channel: ChannelLockEvents(),
	}
}

type lockChangedMsg struct {
	Type       string   `json:"type"`
	TenantID   string   `json:"tenant_id"`
	FunctionID int64    `json:"function_id"`
	SeatIDs    []string `json:"seat_ids"`
	Holder     string   `json:"holder,omitempty"`
	Locator    string   `json:"locator,omitempty"`
	TsUnix     int64    `json:"ts_unix"`
}

func (p *LockEventsPubSub) LeaseLocked(ctx context.Context, l *domain.Lease) error {
	return p.publish(ctx, lockChangedMsg{
		Type:       "seat_locked",
		TenantID:   l.TenantID,
		FunctionID: l.FunctionID,
		SeatIDs:    []string{l.SeatID},
		Holder:     l.Holder,
		Locator:    l.Locator,
		TsUnix:     time.Now().Unix(),
	})
}

func (p *LockEventsPubSub) LeasesReleased(ctx context.Context, tenantID string, functionID int64, seatIDs []string) error {
	return p.publish(ctx, lockChangedMsg{
		Type:       "seat_released",
		TenantID:   tenantID,
		FunctionID: functionID,
		SeatIDs:    seatIDs,
		TsUnix:     time.Now().Unix(),
	})
}

func (p *LockEventsPubSub) publish(ctx context.Context, msg lockChangedMsg) error {
	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe feeds lock-change messages to handler until ctx is done. Used by
// the realtime map gateway; malformed payloads are dropped.
func (p *LockEventsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, tenantID string, functionID int64, seatIDs []string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev lockChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.FunctionID != 0 {
				handler(ctx, ev.TenantID, ev.FunctionID, ev.SeatIDs)
			}
		}
	}
}
