// Package messaging bridges event fan-out across chat server instances over
// NATS. A message persisted on one instance must reach room members whose
// WebSocket connections live on another; the bridge republishes encoded
// events on conversation and user subjects and relays inbound ones into the
// local registry.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the chat service.
const (
	SubjectConversation = "chat.conv"               // + .<conversation_id>
	SubjectUser         = "chat.user"               // + .<user_id>
	SubjectMaintenance  = "chat.system.maintenance" // administrative disconnect
)

// envelope wraps a relayed event with the origin instance ID so an instance
// can ignore its own publications; local delivery already happened.
type envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// LocalFanout is the delivery surface for events arriving from peer
// instances, satisfied by *registry.Registry.
type LocalFanout interface {
	BroadcastToRoom(roomID string, data []byte)
	SendToUser(userID string, data []byte)
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-service",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bridge is the NATS-backed cross-instance event relay.
type Bridge struct {
	conn       *nats.Conn
	instanceID string
	mu         sync.Mutex
	subs       []*nats.Subscription
}

// NewBridge connects to NATS with the given config. instanceID must be
// unique per running server instance.
func NewBridge(config NATSConfig, instanceID string) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bridge{conn: nc, instanceID: instanceID}, nil
}

// PublishToConversation relays an encoded event to the conversation's
// subject for delivery on peer instances.
func (b *Bridge) PublishToConversation(conversationID string, data []byte) error {
	return b.publish(SubjectConversation+"."+conversationID, data)
}

// PublishToUser relays an encoded event to the user's subject.
func (b *Bridge) PublishToUser(userID string, data []byte) error {
	return b.publish(SubjectUser+"."+userID, data)
}

// PublishMaintenance tells every instance to disconnect its clients.
func (b *Bridge) PublishMaintenance(data []byte) error {
	return b.publish(SubjectMaintenance, data)
}

func (b *Bridge) publish(subject string, data []byte) error {
	env, err := json.Marshal(envelope{Origin: b.instanceID, Data: data})
	if err != nil {
		return fmt.Errorf("nats envelope: %w", err)
	}
	return b.conn.Publish(subject, env)
}

// Start subscribes to the conversation and user subject trees and relays
// inbound events from peer instances into the local fan-out. roomForConv
// maps a conversation ID to its local room ID. onMaintenance may be nil.
func (b *Bridge) Start(local LocalFanout, roomForConv func(conversationID string) string, onMaintenance func(data []byte)) error {
	convSub, err := b.conn.Subscribe(SubjectConversation+".*", func(msg *nats.Msg) {
		env, ok := b.unwrap(msg.Data)
		if !ok {
			return
		}
		conversationID := strings.TrimPrefix(msg.Subject, SubjectConversation+".")
		local.BroadcastToRoom(roomForConv(conversationID), env.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectConversation+".*", err)
	}

	userSub, err := b.conn.Subscribe(SubjectUser+".*", func(msg *nats.Msg) {
		env, ok := b.unwrap(msg.Data)
		if !ok {
			return
		}
		userID := strings.TrimPrefix(msg.Subject, SubjectUser+".")
		local.SendToUser(userID, env.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectUser+".*", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, convSub, userSub)
	b.mu.Unlock()

	if onMaintenance != nil {
		maintSub, err := b.conn.Subscribe(SubjectMaintenance, func(msg *nats.Msg) {
			env, ok := b.unwrap(msg.Data)
			if !ok {
				return
			}
			onMaintenance(env.Data)
		})
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", SubjectMaintenance, err)
		}
		b.mu.Lock()
		b.subs = append(b.subs, maintSub)
		b.mu.Unlock()
	}

	return nil
}

// unwrap decodes an envelope and filters out this instance's own
// publications.
func (b *Bridge) unwrap(raw []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[nats] bad envelope: %v", err)
		return env, false
	}
	if env.Origin == b.instanceID {
		return env, false
	}
	return env, true
}

// Close drains all subscriptions and closes the connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		b.conn.Close()
	}
}
