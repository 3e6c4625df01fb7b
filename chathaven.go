// Package chathaven provides the Go client SDK for the ChatHaven messaging
// backend: REST access to users, channels, and messages, plus a real-time
// session over WebSocket for live conversation sync.
//
// Example:
//
//	client := chathaven.NewClient(token)
//
//	me, _ := client.Users.Current(ctx)
//	channels, _ := client.Channels.ForUser(ctx, me.ID)
//
//	sync := chathaven.NewConversationSync(client, chathaven.Session{
//		Token: token, UserID: me.ID, Username: me.Username,
//	}, nil)
//	sync.Start(ctx)
//	sync.Activate(ctx, chathaven.ConversationRef{ID: channels[0].ID, IsChannel: true})
package chathaven

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://chat.chathaven.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	Auth     *AuthClient
	Users    *UsersClient
	Channels *ChannelsClient
	Messages *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new ChatHaven client.
// token is optional — pass "" for unauthenticated auth calls (login, register).
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Users = &UsersClient{client: c}
	c.Channels = &ChannelsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken sets or updates the bearer token, e.g. after a login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Debug().Int("status", resp.StatusCode).Str("method", method).Str("path", path).Msg("request rejected")
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func decodeList[T any](data []byte) ([]T, error) {
	var result []T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

// ============================================================================
// Auth sub-client
// ============================================================================

// AuthClient handles the session lifecycle. Token issuance and verification
// are backend-owned; the SDK only calls the endpoints and stores the result.
type AuthClient struct{ client *Client }

func (a *AuthClient) Login(ctx context.Context, opts *LoginOptions) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/login", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/register", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) VerifyCode(ctx context.Context, email, code string) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/verify-code", map[string]string{
		"email": email, "code": code,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := a.client.doRequest(ctx, "POST", "/api/auth/request-password-reset", map[string]string{
		"email": email,
	}, nil)
	return err
}

func (a *AuthClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	_, err := a.client.doRequest(ctx, "POST", "/api/auth/reset-password", map[string]string{
		"token": token, "newPassword": newPassword,
	}, nil)
	return err
}

func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.client.doRequest(ctx, "POST", "/api/auth/logout", nil, nil)
	return err
}

// ============================================================================
// Users sub-client
// ============================================================================

// UsersClient handles user lookups.
type UsersClient struct{ client *Client }

// Current returns the authenticated user's record.
func (u *UsersClient) Current(ctx context.Context) (*User, error) {
	data, err := u.client.doRequest(ctx, "GET", "/api/users/currentUser", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Get returns a single user by id.
func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	data, err := u.client.doRequest(ctx, "GET", "/api/users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Others lists every user except the given one — candidates for a new DM.
func (u *UsersClient) Others(ctx context.Context, userID string) ([]User, error) {
	data, err := u.client.doRequest(ctx, "GET", "/api/users/get-other-users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[User](data)
}

// ============================================================================
// Channels sub-client
// ============================================================================

// ChannelsClient handles group channels and DM threads.
type ChannelsClient struct{ client *Client }

// ForUser lists the group channels the user belongs to.
func (ch *ChannelsClient) ForUser(ctx context.Context, userID string) ([]Channel, error) {
	data, err := ch.client.doRequest(ctx, "GET", "/api/channels/user/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Channel](data)
}

// DirectForUser lists the raw DM channel records for the user.
func (ch *ChannelsClient) DirectForUser(ctx context.Context, userID string) ([]Channel, error) {
	data, err := ch.client.doRequest(ctx, "GET", "/api/channels/direct-message/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Channel](data)
}

// Get fetches a single channel record.
func (ch *ChannelsClient) Get(ctx context.Context, channelID string) (*Channel, error) {
	data, err := ch.client.doRequest(ctx, "GET", "/api/channels/"+channelID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Channel](data)
}

// Create creates a new group channel owned by userID.
func (ch *ChannelsClient) Create(ctx context.Context, userID, name string) (*Channel, error) {
	data, err := ch.client.doRequest(ctx, "POST", "/api/channels/create-channel", map[string]string{
		"name": name,
	}, map[string]string{"userId": userID})
	if err != nil {
		return nil, err
	}
	return decodeJSON[Channel](data)
}

// CreateDirect creates (or returns) the DM channel between two users.
func (ch *ChannelsClient) CreateDirect(ctx context.Context, user1ID, user2ID string) (*Channel, error) {
	data, err := ch.client.doRequest(ctx, "POST", "/api/channels/direct-message", map[string]string{
		"user1Id": user1ID, "user2Id": user2ID,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Channel](data)
}

// Join adds userID to the channel matching the invite code.
func (ch *ChannelsClient) Join(ctx context.Context, inviteCode, userID string) (*Channel, error) {
	data, err := ch.client.doRequest(ctx, "PUT", "/api/channels/join", nil, map[string]string{
		"inviteCode": inviteCode, "userId": userID,
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON[Channel](data)
}

// Promote grants channel admin rights to userID. The backend enforces that
// the caller is an admin; Directory.PromoteMember pre-checks the same
// predicate client-side before calling this.
func (ch *ChannelsClient) Promote(ctx context.Context, channelID, userID string) error {
	_, err := ch.client.doRequest(ctx, "PUT", "/api/channels/promote", nil, map[string]string{
		"channelId": channelID, "userIdToPromote": userID,
	})
	return err
}

// ============================================================================
// Messages sub-client
// ============================================================================

// MessagesClient handles message history and edits. Sends go over the
// real-time session, not REST.
type MessagesClient struct{ client *Client }

// History returns the stored messages of a conversation (group or DM —
// the endpoint shape is the same for both).
func (m *MessagesClient) History(ctx context.Context, conversationID string) ([]Message, error) {
	data, err := m.client.doRequest(ctx, "GET", "/api/messages/channel/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Message](data)
}

// Edit replaces a message's content and returns the updated record.
func (m *MessagesClient) Edit(ctx context.Context, messageID, content string) (*Message, error) {
	data, err := m.client.doRequest(ctx, "PUT", "/api/messages/"+messageID, map[string]string{
		"content": content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// Delete removes a message.
func (m *MessagesClient) Delete(ctx context.Context, messageID string) error {
	_, err := m.client.doRequest(ctx, "DELETE", "/api/messages/"+messageID, nil, nil)
	return err
}
