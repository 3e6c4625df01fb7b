package chathaven

import (
	"strconv"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "api error: status " + strconv.Itoa(e.Status)
	}
	return e.Message
}

// ============================================================================
// Domain Model
// ============================================================================

// UserStatus is the presence state reported by the backend.
type UserStatus string

const (
	StatusOnline  UserStatus = "ONLINE"
	StatusOffline UserStatus = "OFFLINE"
)

// User is a ChatHaven account. Users are compared by ID.
type User struct {
	ID                     string     `json:"id"`
	Username               string     `json:"username"`
	Status                 UserStatus `json:"status"`
	AdminsForWhichChannels []string   `json:"adminsForWhichChannels,omitempty"`
}

// Channel is either a group channel or a direct-message thread; the two are
// distinguished by IsDirectMessage, not by subtype. When IsDirectMessage is
// true, DirectMessageMembers holds exactly the two participant ids.
type Channel struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	CreatorID            string   `json:"creatorId,omitempty"`
	InviteCode           string   `json:"inviteCode,omitempty"`
	Members              []string `json:"members,omitempty"`
	AdminIDs             []string `json:"adminIds,omitempty"`
	IsDirectMessage      bool     `json:"isDirectMessage,omitempty"`
	DirectMessageMembers []string `json:"directMessageMembers,omitempty"`

	// DM channel records carry the usernames of the two participants as the
	// backend saw them at creation time. Used for other-party resolution.
	SenderUsername   string `json:"senderUsername,omitempty"`
	ReceiverUsername string `json:"receiverUsername,omitempty"`
	SenderID         string `json:"senderId,omitempty"`

	// Client-side only.
	UnreadCount int `json:"-"`
}

// Message is a single chat message. Its routing key is always ChannelID;
// DirectMessage disambiguates display filtering, not routing.
type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	ChannelID      string    `json:"channelId,omitempty"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	DirectMessage  bool      `json:"directMessage,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationRef identifies the active conversation. Exactly one is active
// at a time; it is never persisted.
type ConversationRef struct {
	ID        string
	IsChannel bool
}

// Zero reports whether no conversation is selected.
func (c ConversationRef) Zero() bool { return c.ID == "" }

// DirectMessageDisplay is the UI-facing projection of a DM thread: the
// backing channel id plus the resolved other participant. Recomputed
// whenever the backing channel or user map changes.
type DirectMessageDisplay struct {
	ID          string `json:"id"`
	Participant User   `json:"participant"`
	UnreadCount int    `json:"unreadCount"`
}

// ============================================================================
// Auth Types
// ============================================================================

// LoginOptions is the payload for Auth.Login.
type LoginOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterOptions is the payload for Auth.Register.
type RegisterOptions struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by login and verification calls.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
