package chathaven

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Directory maintains the set of known channels, DM threads, and users, and
// resolves the "other participant" of a DM thread. REST failures are
// absorbed: every load logs a warning and returns what it has, so callers
// treat an empty result as "no data yet".
//
// The caches are last-write-wins; overlapping loads are not coordinated.
type Directory struct {
	client  *Client
	session Session
	log     zerolog.Logger

	mu       sync.RWMutex
	channels []Channel
	threads  []DirectMessageDisplay
	users    map[string]User

	onMembersUpdated []func(channelID string)
}

// NewDirectory creates a directory for the given session. logger may be nil.
func NewDirectory(client *Client, session Session, logger *zerolog.Logger) *Directory {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Directory{
		client:  client,
		session: session,
		log:     log,
		users:   make(map[string]User),
	}
}

// OnMembersUpdated registers a callback fired after a membership mutation
// (currently promotion) so dependent views can refresh.
func (d *Directory) OnMembersUpdated(h func(channelID string)) {
	d.mu.Lock()
	d.onMembersUpdated = append(d.onMembersUpdated, h)
	d.mu.Unlock()
}

func (d *Directory) emitMembersUpdated(channelID string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onMembersUpdated...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(channelID)
	}
}

// ============================================================================
// Channels
// ============================================================================

// LoadChannels fetches the user's group channels and replaces the cache.
// AdminIDs is normalized to non-nil even when the backend omits it.
func (d *Directory) LoadChannels(ctx context.Context) []Channel {
	channels, err := d.client.Channels.ForUser(ctx, d.session.UserID)
	if err != nil {
		d.log.Warn().Err(err).Msg("fetching channels failed")
		return nil
	}
	for i := range channels {
		if channels[i].AdminIDs == nil {
			channels[i].AdminIDs = []string{}
		}
		channels[i].UnreadCount = 0
	}

	d.mu.Lock()
	d.channels = channels
	out := make([]Channel, len(channels))
	copy(out, channels)
	d.mu.Unlock()
	return out
}

// Channels returns a copy of the cached channel list.
func (d *Directory) Channels() []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// ChannelByID returns the cached channel with the given id.
func (d *Directory) ChannelByID(channelID string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.channels {
		if ch.ID == channelID {
			return ch, true
		}
	}
	return Channel{}, false
}

// CreateChannel creates a group channel and adds it to the cache.
func (d *Directory) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	ch, err := d.client.Channels.Create(ctx, d.session.UserID, name)
	if err != nil {
		return nil, err
	}
	if ch.AdminIDs == nil {
		ch.AdminIDs = []string{}
	}
	d.mu.Lock()
	d.channels = append(d.channels, *ch)
	d.mu.Unlock()
	return ch, nil
}

// JoinChannel joins a channel by invite code and adds it to the cache.
func (d *Directory) JoinChannel(ctx context.Context, inviteCode string) (*Channel, error) {
	ch, err := d.client.Channels.Join(ctx, inviteCode, d.session.UserID)
	if err != nil {
		return nil, err
	}
	if ch.AdminIDs == nil {
		ch.AdminIDs = []string{}
	}
	d.mu.Lock()
	if !lo.ContainsBy(d.channels, func(c Channel) bool { return c.ID == ch.ID }) {
		d.channels = append(d.channels, *ch)
	}
	d.mu.Unlock()
	return ch, nil
}

// RemoveChannel drops a channel from the cache, for reacting to a
// server-side deletion event.
func (d *Directory) RemoveChannel(channelID string) {
	d.mu.Lock()
	d.channels = lo.Reject(d.channels, func(c Channel, _ int) bool { return c.ID == channelID })
	d.mu.Unlock()
}

// ============================================================================
// Direct-message threads
// ============================================================================

// LoadDirectThreads fetches the user's DM channel records and projects each
// into a DirectMessageDisplay.
//
// The display username comes from comparing the record's receiverUsername
// against the local user's username: whichever of the two stored usernames
// is not ours names the other party. When the local username is unknown the
// sender-id comparison is used instead. The heuristic breaks down if
// usernames collide or go stale; the backend record carries no explicit
// other-user field to do better with.
func (d *Directory) LoadDirectThreads(ctx context.Context) []DirectMessageDisplay {
	records, err := d.client.Channels.DirectForUser(ctx, d.session.UserID)
	if err != nil {
		d.log.Warn().Err(err).Msg("fetching direct messages failed")
		return nil
	}

	displays := lo.Map(records, func(rec Channel, _ int) DirectMessageDisplay {
		return DirectMessageDisplay{
			ID:          rec.ID,
			Participant: d.otherParticipant(rec),
		}
	})
	displays = lo.UniqBy(displays, func(t DirectMessageDisplay) string { return t.ID })

	d.mu.Lock()
	d.threads = displays
	out := make([]DirectMessageDisplay, len(displays))
	copy(out, displays)
	d.mu.Unlock()
	return out
}

func (d *Directory) otherParticipant(rec Channel) User {
	otherID, _ := lo.Find(rec.DirectMessageMembers, func(id string) bool {
		return id != d.session.UserID
	})

	var username string
	switch {
	case d.session.Username == "":
		// Username unknown locally: fall back to comparing sender ids.
		if rec.SenderID != d.session.UserID {
			username = rec.SenderUsername
		} else {
			username = rec.ReceiverUsername
		}
	case rec.ReceiverUsername != d.session.Username:
		username = rec.ReceiverUsername
	default:
		username = rec.SenderUsername
	}

	return User{ID: otherID, Username: username, Status: StatusOnline}
}

// Threads returns a copy of the cached DM thread list.
func (d *Directory) Threads() []DirectMessageDisplay {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DirectMessageDisplay, len(d.threads))
	copy(out, d.threads)
	return out
}

// ThreadByID returns the cached DM thread backed by the given channel id.
func (d *Directory) ThreadByID(conversationID string) (DirectMessageDisplay, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.threads {
		if t.ID == conversationID {
			return t, true
		}
	}
	return DirectMessageDisplay{}, false
}

// CreateDirectThread creates (or fetches) the DM channel with a recipient
// and adds the projected thread to the cache.
func (d *Directory) CreateDirectThread(ctx context.Context, recipient User) (*DirectMessageDisplay, error) {
	ch, err := d.client.Channels.CreateDirect(ctx, d.session.UserID, recipient.ID)
	if err != nil {
		return nil, err
	}
	display := DirectMessageDisplay{ID: ch.ID, Participant: recipient}

	d.mu.Lock()
	if !lo.ContainsBy(d.threads, func(t DirectMessageDisplay) bool { return t.ID == display.ID }) {
		d.threads = append(d.threads, display)
	}
	d.mu.Unlock()
	return &display, nil
}

// ObserveDirectMessage makes a DM thread started by the other party visible:
// when an inbound message references a channel id with no cached thread, the
// full channel record is fetched and a new thread entry inserted (deduped by
// id). Returns the thread and whether it was newly created.
func (d *Directory) ObserveDirectMessage(ctx context.Context, msg Message) (DirectMessageDisplay, bool) {
	if !msg.DirectMessage || msg.ChannelID == "" {
		return DirectMessageDisplay{}, false
	}
	conversationID := strings.TrimSpace(msg.ChannelID)

	if t, ok := d.ThreadByID(conversationID); ok {
		return t, false
	}

	ch, err := d.client.Channels.Get(ctx, conversationID)
	if err != nil {
		d.log.Warn().Err(err).Str("channel", conversationID).Msg("fetching new DM channel failed")
		return DirectMessageDisplay{}, false
	}

	otherID, _ := lo.Find(ch.DirectMessageMembers, func(id string) bool {
		return id != d.session.UserID
	})
	username := msg.SenderUsername
	if username == "" {
		username = "Unknown User"
	}
	display := DirectMessageDisplay{
		ID:          ch.ID,
		Participant: User{ID: otherID, Username: username, Status: StatusOnline},
		UnreadCount: 1,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if lo.ContainsBy(d.threads, func(t DirectMessageDisplay) bool { return t.ID == display.ID }) {
		return display, false
	}
	d.threads = append(d.threads, display)
	return display, true
}

// ============================================================================
// Users
// ============================================================================

// SetUser inserts or refreshes a user record.
func (d *Directory) SetUser(u User) {
	if u.ID == "" {
		return
	}
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// UserByID returns a cached user record.
func (d *Directory) UserByID(userID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return u, ok
}

// HydrateMembers fetches user records for every member of a channel that is
// not cached yet. Individual fetch failures are skipped.
func (d *Directory) HydrateMembers(ctx context.Context, channelID string) {
	ch, ok := d.ChannelByID(channelID)
	if !ok {
		return
	}

	d.mu.RLock()
	missing := lo.Filter(ch.Members, func(id string, _ int) bool {
		_, cached := d.users[id]
		return !cached && id != d.session.UserID
	})
	d.mu.RUnlock()

	for _, id := range missing {
		u, err := d.client.Users.Get(ctx, id)
		if err != nil {
			d.log.Warn().Err(err).Str("user", id).Msg("fetching member failed")
			continue
		}
		d.SetUser(*u)
	}
}

// ============================================================================
// Admin promotion
// ============================================================================

// IsAdmin reports whether userID administers the channel: either as its
// creator or as a member of its admin set.
func IsAdmin(ch Channel, userID string) bool {
	return ch.CreatorID == userID || lo.Contains(ch.AdminIDs, userID)
}

// PromoteMember grants channel admin rights to userID. The admin predicate
// is checked client-side first: a caller who is neither the creator nor an
// existing admin gets false without a request being issued. The local
// caches are updated only after the backend confirms, so a failed request
// needs no rollback.
func (d *Directory) PromoteMember(ctx context.Context, channelID, userID string) bool {
	ch, ok := d.ChannelByID(channelID)
	if !ok {
		return false
	}
	if !IsAdmin(ch, d.session.UserID) {
		return false
	}

	if err := d.client.Channels.Promote(ctx, channelID, userID); err != nil {
		d.log.Warn().Err(err).Str("channel", channelID).Str("user", userID).Msg("promotion failed")
		return false
	}

	d.mu.Lock()
	for i := range d.channels {
		if d.channels[i].ID != channelID {
			continue
		}
		if !lo.Contains(d.channels[i].AdminIDs, userID) {
			d.channels[i].AdminIDs = append(d.channels[i].AdminIDs, userID)
		}
	}
	if u, cached := d.users[userID]; cached {
		if !lo.Contains(u.AdminsForWhichChannels, channelID) {
			u.AdminsForWhichChannels = append(u.AdminsForWhichChannels, channelID)
			d.users[userID] = u
		}
	}
	d.mu.Unlock()

	d.emitMembersUpdated(channelID)
	return true
}

// ============================================================================
// Member categorization
// ============================================================================

// MemberGroups partitions a channel's members for display.
type MemberGroups struct {
	Admins  []User
	Online  []User
	Offline []User
}

// CategorizeMembers splits a channel's members into admins, online
// non-admins, and offline non-admins, each ordered by username. Member ids
// with no resolvable user record are skipped rather than shown as unknown.
func (d *Directory) CategorizeMembers(channelID string) MemberGroups {
	ch, ok := d.ChannelByID(channelID)
	if !ok {
		return MemberGroups{}
	}

	d.mu.RLock()
	resolved := make([]User, 0, len(ch.Members))
	for _, id := range ch.Members {
		if u, cached := d.users[id]; cached {
			resolved = append(resolved, u)
		}
	}
	d.mu.RUnlock()

	var groups MemberGroups
	for _, u := range resolved {
		switch {
		case IsAdmin(ch, u.ID):
			groups.Admins = append(groups.Admins, u)
		case u.Status == StatusOnline:
			groups.Online = append(groups.Online, u)
		default:
			groups.Offline = append(groups.Offline, u)
		}
	}

	sortByUsername(groups.Admins)
	sortByUsername(groups.Online)
	sortByUsername(groups.Offline)
	return groups
}

// sortByUsername orders users by collated username comparison, matching the
// locale-aware ordering the member list is rendered with.
func sortByUsername(users []User) {
	c := collate.New(language.Und)
	for i := 1; i < len(users); i++ {
		for j := i; j > 0 && c.CompareString(users[j].Username, users[j-1].Username) < 0; j-- {
			users[j], users[j-1] = users[j-1], users[j]
		}
	}
}

// ============================================================================
// Unread counters
// ============================================================================

// IncrementUnread bumps the unread counter of a channel or DM thread.
func (d *Directory) IncrementUnread(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.channels {
		if d.channels[i].ID == conversationID {
			d.channels[i].UnreadCount++
			return
		}
	}
	for i := range d.threads {
		if d.threads[i].ID == conversationID {
			d.threads[i].UnreadCount++
			return
		}
	}
}

// ClearUnread resets the unread counter of a conversation.
func (d *Directory) ClearUnread(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.channels {
		if d.channels[i].ID == conversationID {
			d.channels[i].UnreadCount = 0
			return
		}
	}
	for i := range d.threads {
		if d.threads[i].ID == conversationID {
			d.threads[i].UnreadCount = 0
			return
		}
	}
}
