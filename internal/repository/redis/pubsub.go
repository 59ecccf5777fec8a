package redis

import (
	"context"
	"encoding/json"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LedgerPubSub broadcasts ledger changes to every service instance.
type LedgerPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewLedgerPubSub(rdb *redis.Client) *LedgerPubSub {
	return &LedgerPubSub{
		rdb:     rdb,
		channel: ChannelLedgerChanged(),
	}
}

func (p *LedgerPubSub) PublishEventChanged(ctx context.Context, change domain.LedgerChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *LedgerPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, change domain.LedgerChange)) error {
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
			if change, ok := decodeChange(m.Payload); ok {
				handler(ctx, change)
			}
		}
	}
}

// decodeChange accepts only well-formed messages. Event id 0 is valid.
func decodeChange(payload string) (domain.LedgerChange, bool) {
	var change domain.LedgerChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return domain.LedgerChange{}, false
	}

	if change.Type == "" || change.EventID < 0 {
		return domain.LedgerChange{}, false
	}

	return change, true
}
