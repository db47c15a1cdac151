// Package bridge relays between the controller and an external OpenFlow
// agent over Redis pub/sub. The agent publishes device notifications as JSON
// on "<prefix>:events"; operations for a device are published as envelopes on
// "<prefix>:dp:<dpid>:ops".
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// Sink accepts decoded notifications. *controller.Controller satisfies it.
type Sink interface {
	Submit(ctx context.Context, ev openflow.Event) error
}

// Relay decodes agent payloads and hands them to a Sink, attaching
// RedisDatapath handles to connect events.
type Relay struct {
	prefix string
	pub    Publisher
}

// NewRelay creates a relay publishing operations through pub.
func NewRelay(prefix string, pub Publisher) *Relay {
	return &Relay{prefix: prefix, pub: pub}
}

// Datapath returns the handle for dpid.
func (r *Relay) Datapath(dpid uint64) openflow.Datapath {
	return NewRedisDatapath(dpid, r.prefix, r.pub)
}

// Dispatch decodes one payload and submits it. Malformed payloads are
// returned as errors without reaching the sink.
func (r *Relay) Dispatch(ctx context.Context, sink Sink, payload []byte) error {
	ev, err := DecodeEvent(payload, r.Datapath)
	if err != nil {
		return err
	}
	return sink.Submit(ctx, ev)
}

// Bridge owns the Redis connection and the optional SSH tunnel.
type Bridge struct {
	*Relay
	cfg    fabric.BridgeConfig
	client *redis.Client
	tunnel *SSHTunnel
}

// Dial connects to the relay Redis, through an SSH tunnel when one is
// configured, and verifies the connection.
func Dial(ctx context.Context, cfg fabric.BridgeConfig) (*Bridge, error) {
	b := &Bridge{cfg: cfg}
	addr := cfg.Redis.Addr

	if cfg.SSH.Host != "" {
		pass := cfg.SSH.Password
		if pass == "" {
			p, err := PromptPassword(fmt.Sprintf("%s@%s password: ", cfg.SSH.User, cfg.SSH.Host))
			if err != nil {
				return nil, err
			}
			pass = p
		}
		port := cfg.SSH.Port
		if port == 0 {
			port = 22
		}
		tunnel, err := NewSSHTunnel(cfg.SSH.Host, port, cfg.SSH.User, pass, addr)
		if err != nil {
			return nil, err
		}
		b.tunnel = tunnel
		addr = tunnel.LocalAddr()
		util.WithComponent("bridge").Infof("tunneling %s through %s", cfg.Redis.Addr, net.JoinHostPort(cfg.SSH.Host, strconv.Itoa(port)))
	}

	b.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("connecting to relay redis %s: %w", cfg.Redis.Addr, err)
	}
	b.Relay = NewRelay(cfg.Redis.Prefix, NewRedisPublisher(b.client))
	return b, nil
}

// Run subscribes to the events channel and dispatches every message to sink
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, sink Sink) error {
	log := util.WithComponent("bridge")
	channel := EventsChannel(b.cfg.Redis.Prefix)

	pubsub := b.client.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	log.Infof("listening for device events on %s", channel)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("event subscription closed")
			}
			if err := b.Dispatch(ctx, sink, []byte(msg.Payload)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warnf("dropping event: %v", err)
			}
		}
	}
}

// Close releases the Redis client and the tunnel.
func (b *Bridge) Close() error {
	var errs []error
	if b.client != nil {
		errs = append(errs, b.client.Close())
	}
	if b.tunnel != nil {
		errs = append(errs, b.tunnel.Close())
	}
	return errors.Join(errs...)
}
