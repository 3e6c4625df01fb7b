package chathaven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event decoding
// ============================================================================

func TestDecodeEvent(t *testing.T) {
	t.Run("bare message is created", func(t *testing.T) {
		body := []byte(`{"id":"m1","content":"hi","senderId":"u1","channelId":"ch1","timestamp":"2026-03-10T12:00:00Z"}`)
		ev, err := DecodeEvent(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Kind != EventCreated {
			t.Fatalf("expected EventCreated, got %v", ev.Kind)
		}
		if ev.Message == nil || ev.Message.ID != "m1" {
			t.Fatal("message not decoded")
		}
	})

	t.Run("tagged update", func(t *testing.T) {
		body := []byte(`{"type":"Message updated","message":{"id":"m1","content":"edited","senderId":"u1","timestamp":"2026-03-10T12:00:00Z"}}`)
		ev, err := DecodeEvent(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Kind != EventUpdated {
			t.Fatalf("expected EventUpdated, got %v", ev.Kind)
		}
		if ev.Message.Content != "edited" {
			t.Fatalf("wrong content: %q", ev.Message.Content)
		}
	})

	t.Run("tagged delete", func(t *testing.T) {
		body := []byte(`{"type":"Message deleted","messageId":"m1"}`)
		ev, err := DecodeEvent(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Kind != EventDeleted || ev.MessageID != "m1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	})

	t.Run("delete without messageId is rejected", func(t *testing.T) {
		if _, err := DecodeEvent([]byte(`{"type":"Message deleted"}`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("update with bad message is rejected", func(t *testing.T) {
		if _, err := DecodeEvent([]byte(`{"type":"Message updated","message":{"id":""}}`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-message body is rejected", func(t *testing.T) {
		if _, err := DecodeEvent([]byte(`{"foo":"bar"}`)); err == nil {
			t.Fatal("expected error for body with no message id")
		}
	})

	t.Run("invalid json is rejected", func(t *testing.T) {
		if _, err := DecodeEvent([]byte(`not json`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

// ============================================================================
// Topics
// ============================================================================

func TestTopics(t *testing.T) {
	if got := ChannelTopic("ch1"); got != "/topic/channel/ch1" {
		t.Fatalf("unexpected channel topic: %s", got)
	}
	if got := UserTopic("u1"); got != "/user/u1/direct-messages" {
		t.Fatalf("unexpected user topic: %s", got)
	}
}

// ============================================================================
// Publish while disconnected
// ============================================================================

func TestPublishDisconnected(t *testing.T) {
	payload := OutgoingMessage{Content: "hi", ChannelID: "ch1", SenderID: "u1"}

	t.Run("drop policy discards silently", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{})
		if err := rt.Publish(context.Background(), DestGroupMessage, payload); err != nil {
			t.Fatalf("drop policy returned error: %v", err)
		}
		if rt.QueuedPublishes() != 0 {
			t.Fatal("drop policy queued a frame")
		}
	})

	t.Run("queue policy buffers", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{PublishPolicy: PublishQueue})
		if err := rt.Publish(context.Background(), DestGroupMessage, payload); err != nil {
			t.Fatalf("queue policy returned error: %v", err)
		}
		if rt.QueuedPublishes() != 1 {
			t.Fatalf("expected 1 queued frame, got %d", rt.QueuedPublishes())
		}
	})

	t.Run("queue policy enforces the limit", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{
			PublishPolicy: PublishQueue,
			QueueLimit:    2,
		})
		ctx := context.Background()
		if err := rt.Publish(ctx, DestGroupMessage, payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := rt.Publish(ctx, DestGroupMessage, payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := rt.Publish(ctx, DestGroupMessage, payload); err == nil {
			t.Fatal("expected queue-full error")
		}
		if rt.QueuedPublishes() != 2 {
			t.Fatalf("expected 2 queued frames, got %d", rt.QueuedPublishes())
		}
	})
}

// ============================================================================
// Subscription registry
// ============================================================================

func TestSubscribeRegistry(t *testing.T) {
	rt := NewRealtime("http://example.test", &RealtimeConfig{})
	ctx := context.Background()
	handler := func(topic string, ev Event) {}

	t.Run("subscribe registers topic while disconnected", func(t *testing.T) {
		if err := rt.Subscribe(ctx, ChannelTopic("ch1"), handler); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rt.Topics()) != 1 {
			t.Fatalf("expected 1 topic, got %d", len(rt.Topics()))
		}
	})

	t.Run("resubscribing replaces without duplicating", func(t *testing.T) {
		if err := rt.Subscribe(ctx, ChannelTopic("ch1"), handler); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rt.Topics()) != 1 {
			t.Fatalf("expected 1 topic after resubscribe, got %d", len(rt.Topics()))
		}
	})

	t.Run("unsubscribe removes topic", func(t *testing.T) {
		if err := rt.Unsubscribe(ctx, ChannelTopic("ch1")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rt.Topics()) != 0 {
			t.Fatalf("expected no topics, got %d", len(rt.Topics()))
		}
	})
}

// ============================================================================
// Frame dispatch
// ============================================================================

func TestHandleFrame(t *testing.T) {
	t.Run("dispatches to subscribed handler", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{})
		var got Event
		rt.Subscribe(context.Background(), ChannelTopic("ch1"), func(topic string, ev Event) {
			got = ev
		})

		rt.handleFrame([]byte(`{"topic":"/topic/channel/ch1","body":{"id":"m1","content":"hi","senderId":"u1","channelId":"ch1","timestamp":"2026-03-10T12:00:00Z"}}`))

		if got.Kind != EventCreated || got.Message == nil || got.Message.ID != "m1" {
			t.Fatalf("handler did not receive event: %+v", got)
		}
	})

	t.Run("malformed frame is dropped", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{})
		called := false
		rt.Subscribe(context.Background(), ChannelTopic("ch1"), func(topic string, ev Event) {
			called = true
		})

		rt.handleFrame([]byte(`garbage`))
		rt.handleFrame([]byte(`{"topic":"/topic/channel/ch1","body":{"nonsense":true}}`))

		if called {
			t.Fatal("handler invoked for undecodable frame")
		}
	})

	t.Run("frame for unsubscribed topic is dropped", func(t *testing.T) {
		rt := NewRealtime("http://example.test", &RealtimeConfig{})
		rt.handleFrame([]byte(`{"topic":"/topic/channel/other","body":{"id":"m1","senderId":"u1","timestamp":"2026-03-10T12:00:00Z"}}`))
	})
}

// ============================================================================
// Close
// ============================================================================

func newWSTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "server closing")
		for {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReconnectAfterClose(t *testing.T) {
	srv := newWSTestServer(t)
	rt := NewRealtime(srv.URL, &RealtimeConfig{})
	ctx := context.Background()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	rt.Close()
	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	defer rt.Close()

	// Let the first connection's read loop observe its closure; it must not
	// tear down the session the second Connect established.
	time.Sleep(200 * time.Millisecond)

	if got := rt.State(); got != StateConnected {
		t.Fatalf("expected connected state after reconnect, got %s", got)
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	rt := NewRealtime("http://example.test", &RealtimeConfig{})
	if err := rt.Close(); err != nil {
		t.Fatalf("close on never-connected client: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if rt.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", rt.State())
	}
}
