package chathaven

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Topics & destinations
// ============================================================================

const (
	// DestGroupMessage is the publish destination for group-channel messages.
	DestGroupMessage = "/app/group-message"
	// DestDirectMessage is the publish destination for direct messages.
	DestDirectMessage = "/app/direct-message"
)

// ChannelTopic is the broadcast topic of a group channel.
func ChannelTopic(channelID string) string {
	return "/topic/channel/" + channelID
}

// UserTopic is the per-user queue the backend fans direct messages out to.
// A DM is delivered to the recipient's topic and echoed to the sender's own.
func UserTopic(userID string) string {
	return "/user/" + userID + "/direct-messages"
}

// OutgoingMessage is the payload published to either destination.
type OutgoingMessage struct {
	Content       string `json:"content"`
	ChannelID     string `json:"channelId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	DirectMessage bool   `json:"directMessage"`
}

// ============================================================================
// Event decoding
// ============================================================================

// EventKind discriminates the closed set of inbound message events.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventUpdated
	EventDeleted
)

// Event is the typed form of an inbound frame body. Raw string tags never
// leave this layer: the store and sync code only ever see an Event.
type Event struct {
	Kind      EventKind
	Message   *Message // set for Created and Updated
	MessageID string   // set for Deleted
}

// Wire shapes, as emitted by the broker:
//
//	{"type":"Message deleted","messageId":"..."}
//	{"type":"Message updated","message":{...}}
//	{...}                                         a bare message: created
const (
	wireDeleted = "Message deleted"
	wireUpdated = "Message updated"
)

// DecodeEvent parses a frame body into an Event. A body that fits none of
// the three shapes is an error; callers drop it with a warning.
func DecodeEvent(body []byte) (Event, error) {
	var probe struct {
		Type      string          `json:"type"`
		MessageID string          `json:"messageId"`
		Message   json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return Event{}, fmt.Errorf("unparseable frame: %w", err)
	}

	switch probe.Type {
	case wireDeleted:
		if probe.MessageID == "" {
			return Event{}, errors.New("delete event without messageId")
		}
		return Event{Kind: EventDeleted, MessageID: probe.MessageID}, nil

	case wireUpdated:
		var msg Message
		if err := json.Unmarshal(probe.Message, &msg); err != nil {
			return Event{}, fmt.Errorf("update event with bad message: %w", err)
		}
		if msg.ID == "" {
			return Event{}, errors.New("update event without message id")
		}
		return Event{Kind: EventUpdated, Message: &msg}, nil

	default:
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return Event{}, fmt.Errorf("unparseable message frame: %w", err)
		}
		if msg.ID == "" {
			return Event{}, errors.New("frame is not a message event")
		}
		return Event{Kind: EventCreated, Message: &msg}, nil
	}
}

// ============================================================================
// Configuration
// ============================================================================

// PublishPolicy controls what Publish does while the session is not
// connected.
type PublishPolicy int

const (
	// PublishDrop silently discards the frame — the source behavior.
	PublishDrop PublishPolicy = iota
	// PublishQueue buffers frames (bounded) and flushes them on reconnect.
	PublishQueue
)

// RealtimeConfig configures a real-time session.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	ReconnectDelay       time.Duration // fixed delay, not a backoff curve
	MaxReconnectAttempts int           // 0 = unlimited
	PublishPolicy        PublishPolicy
	QueueLimit           int
	Logger               *zerolog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = 64
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Wire frames
// ============================================================================

// clientFrame is a client-to-server command.
type clientFrame struct {
	Type        string      `json:"type"` // "subscribe", "unsubscribe", "send"
	Topic       string      `json:"topic,omitempty"`
	Destination string      `json:"destination,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
	Receipt     string      `json:"receipt,omitempty"`
}

// serverFrame is an inbound delivery: the topic it was published on plus the
// raw event body.
type serverFrame struct {
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body"`
}

// ============================================================================
// RealtimeClient
// ============================================================================

// TopicHandler receives decoded events for one subscribed topic. Handlers
// are invoked sequentially in frame-arrival order; ordering across distinct
// topics is not guaranteed.
type TopicHandler func(topic string, ev Event)

// RealtimeClient owns the single live message-bus connection of a session.
// Subscriptions registered on it survive reconnects: the same topic set is
// re-established after every successful dial.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	log     zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	subs             map[string]TopicHandler
	queue            []clientFrame
	cancelFn         context.CancelFunc

	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewRealtime creates a real-time client for the backend at baseURL.
// Call Connect to establish the session.
func NewRealtime(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &RealtimeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  &cfg,
		log:     log,
		state:   StateDisconnected,
		subs:    make(map[string]TopicHandler),
	}
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.mu.Lock()
	rt.onConnected = append(rt.onConnected, h)
	rt.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.mu.Lock()
	rt.onDisconnected = append(rt.onDisconnected, h)
	rt.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.mu.Lock()
	rt.onReconnecting = append(rt.onReconnecting, h)
	rt.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// wsURL converts the REST base URL into the websocket endpoint.
func (rt *RealtimeClient) wsURL() string {
	u := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

// Connect dials the backend and establishes the session. On success every
// registered subscription is (re-)sent, and any queued publishes are
// flushed. Calling Connect while connecting or connected is a no-op.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	header := http.Header{}
	if rt.config.Token != "" {
		header.Set("Authorization", "Bearer "+rt.config.Token)
	}
	conn, _, err := websocket.Dial(ctx, rt.wsURL(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	topics := make([]string, 0, len(rt.subs))
	for topic := range rt.subs {
		topics = append(topics, topic)
	}
	queued := rt.queue
	rt.queue = nil
	connected := append([]func(){}, rt.onConnected...)
	rt.mu.Unlock()

	// Idempotent resubscription: the broker keys subscriptions by topic, so
	// replaying the full set after a reconnect is safe.
	for _, topic := range topics {
		if err := rt.writeFrame(connCtx, conn, clientFrame{Type: "subscribe", Topic: topic}); err != nil {
			rt.log.Warn().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
	for _, frame := range queued {
		if err := rt.writeFrame(connCtx, conn, frame); err != nil {
			rt.log.Warn().Err(err).Str("destination", frame.Destination).Msg("queued publish failed")
		}
	}

	for _, h := range connected {
		h()
	}

	go rt.readLoop(connCtx, conn)
	return nil
}

// Close tears the session down. It never panics, is safe to call twice, and
// guarantees no handler fires after it returns.
func (rt *RealtimeClient) Close() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe registers a handler for a topic. Subscribing to a topic that is
// already subscribed replaces the handler without issuing a second broker
// subscription.
func (rt *RealtimeClient) Subscribe(ctx context.Context, topic string, h TopicHandler) error {
	rt.mu.Lock()
	_, already := rt.subs[topic]
	rt.subs[topic] = h
	conn := rt.conn
	state := rt.state
	rt.mu.Unlock()

	if already || state != StateConnected || conn == nil {
		return nil
	}
	return rt.writeFrame(ctx, conn, clientFrame{Type: "subscribe", Topic: topic})
}

// Unsubscribe removes a topic subscription.
func (rt *RealtimeClient) Unsubscribe(ctx context.Context, topic string) error {
	rt.mu.Lock()
	_, ok := rt.subs[topic]
	delete(rt.subs, topic)
	conn := rt.conn
	state := rt.state
	rt.mu.Unlock()

	if !ok || state != StateConnected || conn == nil {
		return nil
	}
	return rt.writeFrame(ctx, conn, clientFrame{Type: "unsubscribe", Topic: topic})
}

// Topics returns the currently registered topic set.
func (rt *RealtimeClient) Topics() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	topics := make([]string, 0, len(rt.subs))
	for t := range rt.subs {
		topics = append(topics, t)
	}
	return topics
}

// Publish sends a payload to a destination. Fire-and-forget: there is no
// acknowledgment or retry. While disconnected the frame is dropped (default)
// or queued for the next reconnect, per the configured policy.
func (rt *RealtimeClient) Publish(ctx context.Context, destination string, payload interface{}) error {
	frame := clientFrame{
		Type:        "send",
		Destination: destination,
		Payload:     payload,
		Receipt:     uuid.NewString(),
	}

	rt.mu.Lock()
	conn := rt.conn
	state := rt.state
	if state != StateConnected || conn == nil {
		switch rt.config.PublishPolicy {
		case PublishQueue:
			if len(rt.queue) >= rt.config.QueueLimit {
				rt.mu.Unlock()
				return errors.New("publish queue full")
			}
			rt.queue = append(rt.queue, frame)
			rt.mu.Unlock()
			return nil
		default:
			rt.mu.Unlock()
			rt.log.Debug().Str("destination", destination).Msg("publish while disconnected dropped")
			return nil
		}
	}
	rt.mu.Unlock()

	return rt.writeFrame(ctx, conn, frame)
}

// QueuedPublishes returns the number of frames waiting for a reconnect.
func (rt *RealtimeClient) QueuedPublishes() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.queue)
}

func (rt *RealtimeClient) writeFrame(ctx context.Context, conn *websocket.Conn, frame clientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ============================================================================
// Read loop & reconnect
// ============================================================================

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			// A stale loop must not tear down a session that was already
			// replaced by a newer Connect.
			if rt.intentionalClose || rt.conn != conn {
				rt.mu.Unlock()
				return
			}
			rt.state = StateDisconnected
			rt.conn = nil
			disconnected := append([]func(string){}, rt.onDisconnected...)
			rt.mu.Unlock()

			for _, h := range disconnected {
				h(err.Error())
			}

			if rt.config.AutoReconnect {
				go rt.reconnectLoop()
			}
			return
		}

		rt.handleFrame(data)
	}
}

// handleFrame parses and dispatches one inbound frame. Malformed frames are
// dropped with a warning; they never halt the stream.
func (rt *RealtimeClient) handleFrame(data []byte) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		rt.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	rt.mu.Lock()
	handler := rt.subs[frame.Topic]
	rt.mu.Unlock()
	if handler == nil {
		rt.log.Debug().Str("topic", frame.Topic).Msg("frame for unsubscribed topic")
		return
	}

	ev, err := DecodeEvent(frame.Body)
	if err != nil {
		rt.log.Warn().Err(err).Str("topic", frame.Topic).Msg("dropping undecodable event")
		return
	}
	handler(frame.Topic, ev)
}

func (rt *RealtimeClient) reconnectLoop() {
	attempt := 0
	for {
		attempt++
		if rt.config.MaxReconnectAttempts > 0 && attempt > rt.config.MaxReconnectAttempts {
			rt.log.Warn().Int("attempts", attempt-1).Msg("giving up on reconnect")
			return
		}

		delay := rt.config.ReconnectDelay
		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		rt.state = StateReconnecting
		reconnecting := append([]func(int, time.Duration){}, rt.onReconnecting...)
		rt.mu.Unlock()

		for _, h := range reconnecting {
			h(attempt, delay)
		}

		time.Sleep(delay)

		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		// Connect refuses anything but Disconnected.
		rt.state = StateDisconnected
		rt.mu.Unlock()

		if err := rt.Connect(context.Background()); err == nil {
			return
		}
		rt.log.Debug().Int("attempt", attempt).Msg("reconnect attempt failed")
	}
}
