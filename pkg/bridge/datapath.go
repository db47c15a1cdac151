package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/newtron-network/newtflow/pkg/openflow"
)

// EventsChannel is where the agent publishes device notifications.
func EventsChannel(prefix string) string {
	return prefix + ":events"
}

// OpsChannel is where operations for one device are published.
func OpsChannel(prefix string, dpid uint64) string {
	return fmt.Sprintf("%s:dp:%016x:ops", prefix, dpid)
}

// Publisher sends a payload on a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes through a go-redis client.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// RedisDatapath implements openflow.Datapath by publishing operation
// envelopes for the agent to encode and send. A nil error means the
// envelope reached Redis; whether any agent was listening is unknown.
type RedisDatapath struct {
	dpid    uint64
	channel string
	pub     Publisher
}

// NewRedisDatapath creates the handle for dpid.
func NewRedisDatapath(dpid uint64, prefix string, pub Publisher) *RedisDatapath {
	return &RedisDatapath{dpid: dpid, channel: OpsChannel(prefix, dpid), pub: pub}
}

func (d *RedisDatapath) ID() uint64 { return d.dpid }

func (d *RedisDatapath) InstallRule(ctx context.Context, fm *openflow.FlowMod) error {
	return d.publish(ctx, openflow.OpInstallRule, encodeFlow(fm))
}

func (d *RedisDatapath) InstallGroup(ctx context.Context, gm *openflow.GroupMod) error {
	return d.publish(ctx, openflow.OpInstallGroup, encodeGroup(gm))
}

func (d *RedisDatapath) SendPacket(ctx context.Context, po *openflow.PacketOut) error {
	return d.publish(ctx, openflow.OpSendPacket, encodePacketOut(po))
}

func (d *RedisDatapath) ModifyPort(ctx context.Context, pm *openflow.PortMod) error {
	return d.publish(ctx, openflow.OpModifyPort, encodePortMod(pm))
}

func (d *RedisDatapath) QueryPortDescriptions(ctx context.Context) error {
	return d.publish(ctx, openflow.OpQueryPorts, nil)
}

func (d *RedisDatapath) publish(ctx context.Context, op openflow.OpKind, body interface{}) error {
	env := Envelope{ID: uuid.NewString(), Op: op, DPID: d.dpid}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", op, err)
		}
		env.Body = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", op, err)
	}
	if err := d.pub.Publish(ctx, d.channel, payload); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", op, d.channel, err)
	}
	return nil
}
