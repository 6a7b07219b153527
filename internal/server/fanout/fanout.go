// Package fanout relays collaboration events between server instances.
//
// Every instance publishes what it broadcasts on the tenant's broker channel,
// tagged with its instance id, after delivering locally. Messages carrying
// the receiver's own tag are dropped so local sessions never see an event
// twice.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/google/uuid"
)

const channelPrefix = "collab:"

// Channel is the broker channel of a tenant.
func Channel(tenantID string) string { return channelPrefix + tenantID }

// Room is the delivery group of a region.
func Room(tenantID, regionID string) string { return "region:" + tenantID + ":" + regionID }

// Message is the broker envelope.
type Message struct {
	InstanceID string          `json:"instanceId"`
	Room       string          `json:"room"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
}

// Deliverer hands an event to the sessions of a room connected to this
// instance. exceptSession, when set, is skipped.
type Deliverer interface {
	Deliver(room, event string, data json.RawMessage, exceptSession string)
}

type Fanout struct {
	id     string
	broker Broker
	log    logging.Logger
}

// New builds a Fanout. An empty instanceID gets a random one.
func New(broker Broker, instanceID string, log logging.Logger) *Fanout {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Fanout{id: instanceID, broker: broker, log: log.With("module", "fanout", "instance_id", instanceID)}
}

func (f *Fanout) InstanceID() string { return f.id }

// Broadcast delivers locally, then publishes for the other instances. A
// broker failure is logged and not returned: local collaborators are
// already served.
func (f *Fanout) Broadcast(ctx context.Context, local Deliverer, tenantID, room, event string, data any, exceptSession string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if local != nil {
		local.Deliver(room, event, raw, exceptSession)
	}
	if f.broker == nil {
		return nil
	}

	msg, err := json.Marshal(Message{InstanceID: f.id, Room: room, Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := f.broker.Publish(ctx, Channel(tenantID), msg); err != nil {
		f.log.Warn(ctx, "broker publish failed", "room", room, "event", event, "error", err)
	}
	return nil
}

// Accept decodes a broker payload and reports whether it came from another
// instance.
func (f *Fanout) Accept(payload []byte) (Message, bool, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, false, err
	}
	return m, m.InstanceID != f.id, nil
}

// Subscribe opens the instance's subscription to every tenant channel.
func (f *Fanout) Subscribe(ctx context.Context) (Subscription, error) {
	if f.broker == nil {
		return nil, errors.New("no broker configured")
	}
	return f.broker.Subscribe(ctx, channelPrefix+"*")
}

// Run subscribes and relays foreign messages to local until ctx is done.
// Without a broker it just waits.
func (f *Fanout) Run(ctx context.Context, local Deliverer) error {
	if f.broker == nil {
		<-ctx.Done()
		return nil
	}
	sub, err := f.Subscribe(ctx)
	if err != nil {
		return err
	}
	return f.Relay(ctx, sub, local)
}

// Relay consumes sub until ctx is done, handing messages from other
// instances to local. It closes sub on return.
func (f *Fanout) Relay(ctx context.Context, sub Subscription, local Deliverer) error {
	defer sub.Close()

	f.log.Info(ctx, "fanout relaying")
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("broker subscription closed")
			}
			m, foreign, err := f.Accept(payload)
			if err != nil {
				f.log.Warn(ctx, "dropping undecodable broker message", "error", err)
				continue
			}
			if !foreign || !strings.HasPrefix(m.Room, "region:") {
				continue
			}
			local.Deliver(m.Room, m.Event, m.Data, "")
		}
	}
}
