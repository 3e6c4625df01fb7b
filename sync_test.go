package chathaven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestSync(t *testing.T, handler http.Handler, notifier Notifier) *ConversationSync {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient("test-token", WithBaseURL(srv.URL))
	return NewConversationSync(client, testSession, &SyncOptions{Notifier: notifier})
}

func createdEvent(msg Message) Event {
	return Event{Kind: EventCreated, Message: &msg}
}

// ============================================================================
// Event routing
// ============================================================================

func TestHandleEventRouting(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("created for active conversation lands in the store", func(t *testing.T) {
		s := newTestSync(t, http.NewServeMux(), nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m1", Content: "hi", SenderID: "u-bob", ChannelID: "ch1", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch1"), createdEvent(msg))

		if !s.Store().Contains("m1") {
			t.Fatal("message not stored")
		}
	})

	t.Run("created for inactive conversation bumps unread", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/channels/user/u-me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, []Channel{{ID: "ch2", Name: "other"}})
		})
		s := newTestSync(t, mux, nil)
		s.Directory().LoadChannels(context.Background())
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m2", SenderID: "u-bob", ChannelID: "ch2", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch2"), createdEvent(msg))

		if s.Store().Contains("m2") {
			t.Fatal("inactive conversation's message stored")
		}
		if ch, _ := s.Directory().ChannelByID("ch2"); ch.UnreadCount != 1 {
			t.Fatalf("expected unread 1, got %d", ch.UnreadCount)
		}
	})

	t.Run("own echo does not bump unread", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/channels/user/u-me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, []Channel{{ID: "ch2", Name: "other"}})
		})
		s := newTestSync(t, mux, nil)
		s.Directory().LoadChannels(context.Background())
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m3", SenderID: "u-me", ChannelID: "ch2", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch2"), createdEvent(msg))

		if ch, _ := s.Directory().ChannelByID("ch2"); ch.UnreadCount != 0 {
			t.Fatalf("own message bumped unread to %d", ch.UnreadCount)
		}
	})

	t.Run("inbound DM on unknown thread surfaces it", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/channels/dm-new", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, Channel{
				ID:                   "dm-new",
				IsDirectMessage:      true,
				DirectMessageMembers: []string{"u-me", "u-dave"},
			})
		})
		s := newTestSync(t, mux, nil)

		msg := Message{ID: "m4", SenderID: "u-dave", SenderUsername: "dave", ChannelID: "dm-new", DirectMessage: true, Timestamp: ts}
		s.handleEvent(UserTopic("u-me"), createdEvent(msg))

		thread, ok := s.Directory().ThreadByID("dm-new")
		if !ok {
			t.Fatal("new DM thread not surfaced")
		}
		if thread.Participant.Username != "dave" {
			t.Fatalf("unexpected participant: %q", thread.Participant.Username)
		}
	})

	t.Run("DM for the active conversation is stored even without a cached thread", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/channels/dm-x", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, Channel{
				ID:                   "dm-x",
				IsDirectMessage:      true,
				DirectMessageMembers: []string{"u-me", "u-dave"},
			})
		})
		s := newTestSync(t, mux, nil)
		// Activated before LoadDirectThreads ever ran, so no thread is cached.
		s.Store().Activate(ConversationRef{ID: "dm-x", IsChannel: false})

		msg := Message{ID: "m1", SenderID: "u-dave", SenderUsername: "dave", ChannelID: "dm-x", DirectMessage: true, Timestamp: ts}
		s.handleEvent(UserTopic("u-me"), createdEvent(msg))

		if !s.Store().Contains("m1") {
			t.Fatal("active conversation's message dropped")
		}
		thread, ok := s.Directory().ThreadByID("dm-x")
		if !ok {
			t.Fatal("thread not surfaced")
		}
		if thread.Participant.Username != "dave" {
			t.Fatalf("unexpected participant: %q", thread.Participant.Username)
		}
		// On screen, so the fresh thread must not show unread.
		if thread, _ := s.Directory().ThreadByID("dm-x"); thread.UnreadCount != 0 {
			t.Fatalf("expected unread 0 for the visible thread, got %d", thread.UnreadCount)
		}
	})

	t.Run("new inactive DM thread counts exactly one unread", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/channels/dm-y", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, Channel{
				ID:                   "dm-y",
				IsDirectMessage:      true,
				DirectMessageMembers: []string{"u-me", "u-dave"},
			})
		})
		s := newTestSync(t, mux, nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m2", SenderID: "u-dave", ChannelID: "dm-y", DirectMessage: true, Timestamp: ts}
		s.handleEvent(UserTopic("u-me"), createdEvent(msg))

		if thread, _ := s.Directory().ThreadByID("dm-y"); thread.UnreadCount != 1 {
			t.Fatalf("expected unread 1, got %d", thread.UnreadCount)
		}
	})

	t.Run("update and delete reach the store", func(t *testing.T) {
		s := newTestSync(t, http.NewServeMux(), nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m5", Content: "v1", SenderID: "u-bob", ChannelID: "ch1", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch1"), createdEvent(msg))

		edited := msg
		edited.Content = "v2"
		s.handleEvent(ChannelTopic("ch1"), Event{Kind: EventUpdated, Message: &edited})
		if got := s.Store().Messages()[0].Content; got != "v2" {
			t.Fatalf("update not applied: %q", got)
		}

		s.handleEvent(ChannelTopic("ch1"), Event{Kind: EventDeleted, MessageID: "m5"})
		if s.Store().Contains("m5") {
			t.Fatal("delete not applied")
		}
	})

	t.Run("observers see applied events", func(t *testing.T) {
		s := newTestSync(t, http.NewServeMux(), nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		var seen []EventKind
		s.OnEvent(func(topic string, ev Event) { seen = append(seen, ev.Kind) })

		msg := Message{ID: "m6", SenderID: "u-bob", ChannelID: "ch1", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch1"), createdEvent(msg))
		s.handleEvent(ChannelTopic("ch1"), Event{Kind: EventDeleted, MessageID: "m6"})

		if len(seen) != 2 || seen[0] != EventCreated || seen[1] != EventDeleted {
			t.Fatalf("unexpected observer sequence: %v", seen)
		}
	})
}

// ============================================================================
// Notification integration
// ============================================================================

func TestSyncNotifications(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("active conversation counts as visible", func(t *testing.T) {
		rec := &recordingNotifier{}
		s := newTestSync(t, http.NewServeMux(), rec)
		s.Gate().SetPermission(PermissionGranted)
		s.Gate().SetEnabled(true)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m1", SenderID: "u-bob", ChannelID: "ch1", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch1"), createdEvent(msg))

		if len(rec.fired) != 0 {
			t.Fatal("notified for the conversation on screen")
		}
	})

	t.Run("background conversation notifies", func(t *testing.T) {
		rec := &recordingNotifier{}
		s := newTestSync(t, http.NewServeMux(), rec)
		s.Gate().SetPermission(PermissionGranted)
		s.Gate().SetEnabled(true)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})

		msg := Message{ID: "m2", Content: "psst", SenderID: "u-bob", ChannelID: "ch2", Timestamp: ts}
		s.handleEvent(ChannelTopic("ch2"), createdEvent(msg))

		if len(rec.fired) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(rec.fired))
		}
	})
}

// ============================================================================
// Sends & edits
// ============================================================================

func TestSendDirectMessageUnknownThread(t *testing.T) {
	s := newTestSync(t, http.NewServeMux(), nil)
	if err := s.SendDirectMessage(context.Background(), "nope", "hi"); err == nil {
		t.Fatal("expected error for unknown thread")
	}
}

func TestEditMessage(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("applies the backend's record locally", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut {
				http.Error(w, "method", http.StatusMethodNotAllowed)
				return
			}
			writeJSON(w, Message{ID: "m1", Content: "edited", SenderID: "u-me", ChannelID: "ch1", Timestamp: ts})
		})
		s := newTestSync(t, mux, nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})
		s.Store().ApplyCreate(Message{ID: "m1", Content: "orig", SenderID: "u-me", ChannelID: "ch1", Timestamp: ts})

		if !s.EditMessage(context.Background(), "m1", "edited") {
			t.Fatal("edit reported failure")
		}
		if got := s.Store().Messages()[0].Content; got != "edited" {
			t.Fatalf("local store not updated: %q", got)
		}
	})

	t.Run("backend failure leaves the store untouched", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		s := newTestSync(t, mux, nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})
		s.Store().ApplyCreate(Message{ID: "m1", Content: "orig", SenderID: "u-me", ChannelID: "ch1", Timestamp: ts})

		if s.EditMessage(context.Background(), "m1", "edited") {
			t.Fatal("edit reported success on backend failure")
		}
		if got := s.Store().Messages()[0].Content; got != "orig" {
			t.Fatalf("store mutated on failure: %q", got)
		}
	})
}

func TestDeleteMessage(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("removes locally after backend confirms", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s := newTestSync(t, mux, nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})
		s.Store().ApplyCreate(Message{ID: "m1", SenderID: "u-me", ChannelID: "ch1", Timestamp: ts})

		if !s.DeleteMessage(context.Background(), "m1") {
			t.Fatal("delete reported failure")
		}
		if s.Store().Contains("m1") {
			t.Fatal("message still present")
		}
	})

	t.Run("keeps the message on backend failure", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		s := newTestSync(t, mux, nil)
		s.Store().Activate(ConversationRef{ID: "ch1", IsChannel: true})
		s.Store().ApplyCreate(Message{ID: "m1", SenderID: "u-me", ChannelID: "ch1", Timestamp: ts})

		if s.DeleteMessage(context.Background(), "m1") {
			t.Fatal("delete reported success on backend failure")
		}
		if !s.Store().Contains("m1") {
			t.Fatal("message removed despite failure")
		}
	})
}

// ============================================================================
// Session validation
// ============================================================================

func TestStartRequiresSession(t *testing.T) {
	client := NewClient("", WithBaseURL("http://example.test"))
	s := NewConversationSync(client, Session{}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for empty session")
	}
}
