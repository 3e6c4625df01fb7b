package chathaven

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// SyncOptions configures a ConversationSync. All fields are optional.
type SyncOptions struct {
	// Realtime overrides the real-time session config. Token is filled from
	// the session when empty.
	Realtime *RealtimeConfig
	// Notifier receives desktop notifications that pass the gate.
	Notifier Notifier
	Logger   *zerolog.Logger
}

// ConversationSync coordinates one user's live conversation state: it owns
// the real-time session, routes decoded events into the message store and
// the directory, and runs the notification gate.
//
// One ConversationSync per logged-in session. Sends go over the real-time
// session and are never appended locally; the sender sees its own message
// when the broker echoes it back on the sender's topic, so a send that the
// backend rejects simply never appears.
type ConversationSync struct {
	client  *Client
	session Session
	log     zerolog.Logger

	rt    *RealtimeClient
	store *MessageStore
	dir   *Directory
	gate  *NotificationGate

	mu      sync.Mutex
	onEvent []func(topic string, ev Event)
}

// NewConversationSync wires up a sync coordinator. opts may be nil.
func NewConversationSync(client *Client, session Session, opts *SyncOptions) *ConversationSync {
	if opts == nil {
		opts = &SyncOptions{}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	rtCfg := RealtimeConfig{AutoReconnect: true}
	if opts.Realtime != nil {
		rtCfg = *opts.Realtime
	}
	if rtCfg.Token == "" {
		rtCfg.Token = session.Token
	}
	if rtCfg.Logger == nil {
		rtCfg.Logger = &log
	}

	s := &ConversationSync{
		client:  client,
		session: session,
		log:     log,
		rt:      NewRealtime(client.BaseURL(), &rtCfg),
		store:   NewMessageStore(),
		dir:     NewDirectory(client, session, &log),
	}
	s.gate = NewNotificationGate(session.UserID, opts.Notifier, s.conversationVisible)
	return s
}

// Store returns the message store.
func (s *ConversationSync) Store() *MessageStore { return s.store }

// Directory returns the conversation directory.
func (s *ConversationSync) Directory() *Directory { return s.dir }

// Realtime returns the underlying real-time client.
func (s *ConversationSync) Realtime() *RealtimeClient { return s.rt }

// Gate returns the notification gate.
func (s *ConversationSync) Gate() *NotificationGate { return s.gate }

// conversationVisible treats the active conversation as the one on screen.
func (s *ConversationSync) conversationVisible(conversationID string, directMessage bool) bool {
	active := s.store.Active()
	return active.ID == conversationID && active.IsChannel == !directMessage
}

// Start connects the real-time session and subscribes the user's own DM
// topic, which also carries echoes of the user's outbound direct messages.
func (s *ConversationSync) Start(ctx context.Context) error {
	if !s.session.Valid() {
		return errors.New("session has no token or user id")
	}
	if err := s.rt.Connect(ctx); err != nil {
		return err
	}
	return s.rt.Subscribe(ctx, UserTopic(s.session.UserID), s.handleEvent)
}

// Stop tears the real-time session down.
func (s *ConversationSync) Stop() error {
	return s.rt.Close()
}

// Activate switches the active conversation: the store is retagged, the
// conversation's topic is subscribed (group channels get their broadcast
// topic; DMs already flow over the user topic), its unread counter is
// cleared, and a history load is kicked off in the background.
//
// The history result is applied only if the conversation is still active
// when it lands, so a fast conversation switch cannot overwrite the new
// conversation with the old one's messages.
func (s *ConversationSync) Activate(ctx context.Context, conv ConversationRef) error {
	s.store.Activate(conv)
	s.dir.ClearUnread(conv.ID)

	if conv.IsChannel {
		if err := s.rt.Subscribe(ctx, ChannelTopic(conv.ID), s.handleEvent); err != nil {
			return err
		}
	} else if thread, ok := s.dir.ThreadByID(conv.ID); ok {
		// The broker delivers a DM to both parties' topics; listening on the
		// peer's as well covers brokers that only publish to the recipient.
		if err := s.rt.Subscribe(ctx, UserTopic(thread.Participant.ID), s.handleEvent); err != nil {
			return err
		}
	}

	go func() {
		messages, err := s.client.Messages.History(ctx, conv.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation", conv.ID).Msg("history fetch failed")
			return
		}
		if !s.store.SeedHistory(conv, messages) {
			s.log.Debug().Str("conversation", conv.ID).Msg("stale history discarded")
		}
	}()
	return nil
}

// Deactivate clears the active conversation without closing the session.
func (s *ConversationSync) Deactivate() {
	s.store.Activate(ConversationRef{})
}

// OnEvent registers an observer invoked after an inbound event has been
// applied. Observers run on the read-loop goroutine and must not block.
func (s *ConversationSync) OnEvent(h func(topic string, ev Event)) {
	s.mu.Lock()
	s.onEvent = append(s.onEvent, h)
	s.mu.Unlock()
}

// handleEvent routes one decoded event. It runs on the read-loop goroutine,
// so per-topic ordering is preserved through the store.
func (s *ConversationSync) handleEvent(topic string, ev Event) {
	switch ev.Kind {
	case EventCreated:
		s.handleCreated(*ev.Message)
	case EventUpdated:
		s.store.ApplyUpdate(*ev.Message)
	case EventDeleted:
		s.store.ApplyDelete(ev.MessageID)
	}

	s.mu.Lock()
	observers := append([]func(string, Event){}, s.onEvent...)
	s.mu.Unlock()
	for _, h := range observers {
		h(topic, ev)
	}
}

func (s *ConversationSync) handleCreated(msg Message) {
	// A DM referencing an unknown conversation means the other party just
	// started the thread; surface it, then treat the message like any other.
	created := false
	if msg.DirectMessage {
		_, created = s.dir.ObserveDirectMessage(context.Background(), msg)
	}

	active := s.store.Active()
	switch {
	case active.ID == msg.ChannelID && active.IsChannel == !msg.DirectMessage:
		s.store.ApplyCreate(msg)
		if created {
			// The fresh thread starts with one unread, but it is on screen.
			s.dir.ClearUnread(msg.ChannelID)
		}
	case !created && msg.SenderID != s.session.UserID:
		// A freshly surfaced thread already carries its first unread.
		s.dir.IncrementUnread(msg.ChannelID)
	}

	s.gate.Maybe(msg)
}

// SendChannelMessage publishes a message to a group channel. The send is
// fire-and-forget; the message shows up when the broker broadcasts it back
// on the channel topic.
func (s *ConversationSync) SendChannelMessage(ctx context.Context, channelID, content string) error {
	return s.rt.Publish(ctx, DestGroupMessage, OutgoingMessage{
		Content:   content,
		ChannelID: channelID,
		SenderID:  s.session.UserID,
	})
}

// SendDirectMessage publishes a direct message. The recipient is resolved
// from the cached thread; sending into an unknown thread is an error.
func (s *ConversationSync) SendDirectMessage(ctx context.Context, conversationID, content string) error {
	thread, ok := s.dir.ThreadByID(conversationID)
	if !ok {
		return errors.New("unknown direct-message thread: " + conversationID)
	}
	return s.rt.Publish(ctx, DestDirectMessage, OutgoingMessage{
		Content:       content,
		ChannelID:     conversationID,
		SenderID:      s.session.UserID,
		ReceiverID:    thread.Participant.ID,
		DirectMessage: true,
	})
}

// EditMessage replaces a message's content via REST and applies the updated
// record locally. Other participants learn of the edit from the broker's
// update event. Returns whether the edit succeeded.
func (s *ConversationSync) EditMessage(ctx context.Context, messageID, content string) bool {
	updated, err := s.client.Messages.Edit(ctx, messageID, content)
	if err != nil {
		s.log.Warn().Err(err).Str("message", messageID).Msg("edit failed")
		return false
	}
	s.store.ApplyUpdate(*updated)
	return true
}

// DeleteMessage removes a message via REST and drops it locally. Returns
// whether the deletion succeeded.
func (s *ConversationSync) DeleteMessage(ctx context.Context, messageID string) bool {
	if err := s.client.Messages.Delete(ctx, messageID); err != nil {
		s.log.Warn().Err(err).Str("message", messageID).Msg("delete failed")
		return false
	}
	s.store.ApplyDelete(messageID)
	return true
}
