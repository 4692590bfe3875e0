package redisx

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LocationPubSub relays position samples between service instances. Each bus
// has its own channel. Every published sample is tagged with the publishing
// instance's origin ID so the consume loop can drop its own echoes; without
// the tag, local subscribers would see each sample twice.
type LocationPubSub struct {
	rdb    *redis.Client
	origin string
}

// envelope is the wire form on the redis channel.
type envelope struct {
	Origin string                `json:"origin"`
	Sample domain.LocationSample `json:"sample"`
}

func NewLocationPubSub(rdb *redis.Client) *LocationPubSub {
	return &LocationPubSub{
		rdb:    rdb,
		origin: uuid.New().String(),
	}
}

func (p *LocationPubSub) Publish(ctx context.Context, s domain.LocationSample) error {
	b, _ := json.Marshal(envelope{Origin: p.origin, Sample: s})

	return p.rdb.Publish(ctx, ChannelBusLocation(s.BusID), b).Err()
}

// SubscribeAll delivers samples published by other instances to handler
// until ctx is cancelled. Samples this instance published are skipped.
func (p *LocationPubSub) SubscribeAll(
	ctx context.Context,
	handler func(ctx context.Context, s domain.LocationSample),
) error {
	sub := p.rdb.PSubscribe(ctx, ChannelBusLocationPattern())
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
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err == nil &&
				env.Origin != p.origin {
				handler(ctx, env.Sample)
			}
		}
	}
}
