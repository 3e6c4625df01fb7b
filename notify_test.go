package chathaven

import "testing"

// ============================================================================
// Test Helpers
// ============================================================================

type recordingNotifier struct {
	fired []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.fired = append(r.fired, n)
}

func openGate(rec *recordingNotifier, visible VisibilityFunc) *NotificationGate {
	g := NewNotificationGate("u-me", rec, visible)
	g.SetPermission(PermissionGranted)
	g.SetEnabled(true)
	return g
}

var inboundDM = Message{
	ID:             "m1",
	Content:        "hey",
	SenderID:       "u-bob",
	SenderUsername: "bob",
	ChannelID:      "dm1",
	DirectMessage:  true,
}

// ============================================================================
// Gate conditions
// ============================================================================

func TestNotificationGate(t *testing.T) {
	t.Run("fires when every condition passes", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, func(conversationID string, direct bool) bool { return false })

		if !g.Maybe(inboundDM) {
			t.Fatal("expected notification")
		}
		if len(rec.fired) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(rec.fired))
		}
		if rec.fired[0].Title != "New message from bob" {
			t.Fatalf("unexpected title: %q", rec.fired[0].Title)
		}
		if rec.fired[0].Body != "hey" {
			t.Fatalf("unexpected body: %q", rec.fired[0].Body)
		}
	})

	t.Run("channel messages get the generic title", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, nil)

		msg := inboundDM
		msg.DirectMessage = false
		msg.ChannelID = "ch1"
		g.Maybe(msg)

		if rec.fired[0].Title != "New message in channel" {
			t.Fatalf("unexpected title: %q", rec.fired[0].Title)
		}
	})

	t.Run("suppressed without permission", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, nil)
		g.SetPermission(PermissionDenied)

		if g.Maybe(inboundDM) {
			t.Fatal("fired despite denied permission")
		}
	})

	t.Run("default permission is not granted", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := NewNotificationGate("u-me", rec, nil)
		g.SetEnabled(true)

		if g.Maybe(inboundDM) {
			t.Fatal("fired with unset permission")
		}
	})

	t.Run("suppressed when alerts are disabled", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, nil)
		g.SetEnabled(false)

		if g.Maybe(inboundDM) {
			t.Fatal("fired despite disabled alerts")
		}
	})

	t.Run("disabled is the default", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := NewNotificationGate("u-me", rec, nil)
		g.SetPermission(PermissionGranted)

		if g.Maybe(inboundDM) {
			t.Fatal("fired without explicit opt-in")
		}
	})

	t.Run("own messages never alert", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, nil)

		echo := inboundDM
		echo.SenderID = "u-me"
		if g.Maybe(echo) {
			t.Fatal("fired for own echoed message")
		}
	})

	t.Run("suppressed while the conversation is visible", func(t *testing.T) {
		rec := &recordingNotifier{}
		g := openGate(rec, func(conversationID string, direct bool) bool {
			return conversationID == "dm1"
		})

		if g.Maybe(inboundDM) {
			t.Fatal("fired for a visible conversation")
		}

		other := inboundDM
		other.ChannelID = "dm2"
		if !g.Maybe(other) {
			t.Fatal("suppressed a non-visible conversation")
		}
	})

	t.Run("nil notifier never fires", func(t *testing.T) {
		g := NewNotificationGate("u-me", nil, nil)
		g.SetPermission(PermissionGranted)
		g.SetEnabled(true)

		if g.Maybe(inboundDM) {
			t.Fatal("reported a delivery without a notifier")
		}
	})
}
