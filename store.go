package chathaven

import (
	"sort"
	"sync"
	"time"
)

// MessageStore holds the in-memory messages of the conversations the user
// has loaded, and applies inbound events idempotently. It is the sole
// mutator of the collection after creation; the realtime layer only hands
// it already-decoded events.
//
// Events from distinct topics arrive in arbitrary relative order (each topic
// is its own ordered stream), so every apply operation tolerates
// duplication and reordering.
type MessageStore struct {
	mu       sync.RWMutex
	messages []Message
	ids      map[string]struct{}
	active   ConversationRef
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		ids: make(map[string]struct{}),
	}
}

// Activate marks a conversation as the one history loads are for. History
// seeded for any other conversation after this call is discarded.
func (s *MessageStore) Activate(conv ConversationRef) {
	s.mu.Lock()
	s.active = conv
	s.mu.Unlock()
}

// Active returns the currently active conversation.
func (s *MessageStore) Active() ConversationRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SeedHistory replaces the store contents with a freshly fetched history.
// The backend does not guarantee order, so messages are sorted ascending by
// timestamp; equal timestamps keep their arrival order.
//
// The load is tagged with the conversation it was issued for: if the active
// conversation changed while the fetch was in flight, the result is
// discarded and SeedHistory reports false.
func (s *MessageStore) SeedHistory(conv ConversationRef, messages []Message) bool {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != conv {
		return false
	}
	s.messages = sorted
	s.ids = make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		s.ids[m.ID] = struct{}{}
	}
	return true
}

// ApplyCreate appends a message. A duplicate id is a no-op: the same message
// legitimately arrives once per subscribed topic in a DM fan-out.
func (s *MessageStore) ApplyCreate(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[msg.ID]; dup {
		return
	}
	s.messages = append(s.messages, msg)
	s.ids[msg.ID] = struct{}{}
}

// ApplyUpdate replaces the stored message with the same id. An update for an
// unknown id is treated as a create rather than dropped, to tolerate
// out-of-order delivery across topics.
func (s *MessageStore) ApplyUpdate(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
	s.ids[msg.ID] = struct{}{}
}

// ApplyDelete removes the message with the given id. A missing id is a
// no-op, not an error.
func (s *MessageStore) ApplyDelete(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[messageID]; !ok {
		return
	}
	delete(s.ids, messageID)
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// Contains reports whether a message id is present.
func (s *MessageStore) Contains(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[messageID]
	return ok
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of the stored messages in order.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// FilterForConversation returns the messages visible in one conversation:
// the channel id must match, and the directMessage flag must agree with the
// conversation's nature. A message whose flag contradicts its channel is
// excluded rather than shown.
func (s *MessageStore) FilterForConversation(conversationID string, isChannel bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.ChannelID != conversationID {
			continue
		}
		if m.DirectMessage == isChannel {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ============================================================================
// Display grouping
// ============================================================================

// DateGroup is one calendar day of messages for display.
type DateGroup struct {
	Date     string // "2006-01-02" in the grouping location
	Messages []Message
}

// GroupByLocalDate partitions messages into date-keyed groups using the
// calendar date of each timestamp in loc (nil means time.Local). The local
// date is deliberate: grouping by UTC date splits evenings near midnight
// into the wrong day for users west of Greenwich.
//
// There is exactly one group per date: a message arriving out of order joins
// its day's existing group rather than opening a second one. Within a group,
// and across groups by first appearance, input order is preserved.
func GroupByLocalDate(messages []Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DateGroup
	index := make(map[string]int)
	for _, m := range messages {
		date := m.Timestamp.In(loc).Format("2006-01-02")
		if i, ok := index[date]; ok {
			groups[i].Messages = append(groups[i].Messages, m)
			continue
		}
		index[date] = len(groups)
		groups = append(groups, DateGroup{Date: date, Messages: []Message{m}})
	}
	return groups
}
