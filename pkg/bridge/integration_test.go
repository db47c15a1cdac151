//go:build integration

package bridge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
)

type chanSink chan openflow.Event

func (c chanSink) Submit(ctx context.Context, ev openflow.Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requires a Redis at NEWTFLOW_REDIS_ADDR (default 127.0.0.1:6379).
func TestBridgeRoundTrip(t *testing.T) {
	addr := os.Getenv("NEWTFLOW_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	cfg := fabric.BridgeConfig{
		Enabled: true,
		Redis:   fabric.RedisConfig{Addr: addr, Prefix: "newtflow-it"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := Dial(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	agent := redis.NewClient(&redis.Options{Addr: addr})
	defer agent.Close()
	ops := agent.Subscribe(ctx, OpsChannel(cfg.Redis.Prefix, 5))
	defer ops.Close()
	_, err = ops.Receive(ctx)
	require.NoError(t, err)

	sink := make(chanSink, 1)
	go b.Run(ctx, sink)

	// Publish until the bridge's subscription is live.
	var ev openflow.Event
	for ev == nil {
		require.NoError(t, agent.Publish(ctx, EventsChannel(cfg.Redis.Prefix), `{"type":"connect","dpid":5}`).Err())
		select {
		case ev = <-sink:
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}

	conn, ok := ev.(*openflow.ConnectEvent)
	require.True(t, ok)
	require.NoError(t, conn.Datapath.QueryPortDescriptions(ctx))

	msg, err := ops.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"op":"query-ports"`)
}
