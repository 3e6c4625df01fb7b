package chathaven

import "sync"

// Permission mirrors the tri-state desktop notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionDenied  Permission = "denied"
	PermissionGranted Permission = "granted"
)

// Notification is the rendered alert handed to a Notifier.
type Notification struct {
	Title string
	Body  string
}

// Notifier delivers a notification to the host platform. Implementations
// own click/focus behavior and dismissal; the gate only decides whether to
// fire.
type Notifier interface {
	Notify(n Notification)
}

// VisibilityFunc reports whether the conversation a message belongs to is
// currently on screen. When it returns true the message needs no alert.
type VisibilityFunc func(conversationID string, directMessage bool) bool

// NotificationGate decides whether an inbound message becomes a desktop
// notification. All four conditions must hold: permission granted, alerts
// enabled by the user, the sender is someone else, and the conversation is
// not currently visible.
//
// Enabled starts false; the user opts in explicitly. Asking the platform
// for permission is the embedder's job and is reported back via
// SetPermission.
type NotificationGate struct {
	mu         sync.RWMutex
	permission Permission
	enabled    bool
	localUser  string
	visible    VisibilityFunc
	notifier   Notifier
}

// NewNotificationGate creates a gate for the given local user. notifier and
// visible may be nil, in which case nothing ever fires.
func NewNotificationGate(localUserID string, notifier Notifier, visible VisibilityFunc) *NotificationGate {
	return &NotificationGate{
		permission: PermissionDefault,
		localUser:  localUserID,
		visible:    visible,
		notifier:   notifier,
	}
}

// SetPermission records the platform permission state.
func (g *NotificationGate) SetPermission(p Permission) {
	g.mu.Lock()
	g.permission = p
	g.mu.Unlock()
}

// SetEnabled flips the user-level alert toggle.
func (g *NotificationGate) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

// Enabled returns the user-level alert toggle.
func (g *NotificationGate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Maybe fires a notification for an inbound message if every gate condition
// passes. It returns whether a notification was delivered.
func (g *NotificationGate) Maybe(msg Message) bool {
	g.mu.RLock()
	permission, enabled := g.permission, g.enabled
	visible, notifier := g.visible, g.notifier
	localUser := g.localUser
	g.mu.RUnlock()

	if notifier == nil {
		return false
	}
	if permission != PermissionGranted || !enabled {
		return false
	}
	if msg.SenderID == localUser {
		return false
	}
	if visible != nil && visible(msg.ChannelID, msg.DirectMessage) {
		return false
	}

	title := "New message in channel"
	if msg.DirectMessage {
		title = "New message from " + msg.SenderUsername
	}
	notifier.Notify(Notification{Title: title, Body: msg.Content})
	return true
}
