package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/pelusa-sync/internal/bus"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
	"github.com/pelusa-v/pelusa-sync/internal/storage"
)

// typingResendInterval rate-limits outbound typing signals; the UI may call
// Typing on every keystroke but the transport only sees one signal per
// interval unless the state flips.
const typingResendInterval = 2 * time.Second

// Options wires a Controller.
type Options struct {
	Backend   Backend
	Transport Transport
	Bus       bus.Bus
	KV        storage.KV
	Logger    *logger.Logger
	SelfID    string

	PageSize     int
	CachedChats  int
	TypingWindow time.Duration
}

// Snapshot is the state handed to the UI when a chat is opened.
type Snapshot struct {
	Chat     Chat      `json:"chat"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	Draft    string    `json:"draft"`
}

// Controller orchestrates the session: it owns which chat is active, issues
// fetches, routes inbound transport events into the sub-components, and is
// the sole writer of unread resets. Both local intents and remote events
// converge on the same mutation paths.
type Controller struct {
	backend   Backend
	transport Transport
	events    bus.Bus
	log       *logger.Logger
	selfID    string
	pageSize  int

	cache    *MessageCache
	unread   *UnreadTracker
	presence *PresenceTracker
	drafts   *DraftStore
	settings *SettingsStore
	outbox   *Outbox

	mu              sync.Mutex
	chats           map[string]Chat
	activeID        string
	connected       bool
	wasDisconnected bool
	fetchSeq        map[string]uint64 // last issued fetch generation per chat
	fetchDone       map[string]uint64 // highest completed generation per chat
	lastTypingSent  time.Time
	lastTypingState bool

	now func() time.Time
}

// New builds a Controller from its collaborators.
func New(opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if opts.KV == nil {
		return nil, errors.New("kv store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	cache := NewMessageCache(opts.CachedChats)
	log := opts.Logger.With("component", "session")
	return &Controller{
		backend:   opts.Backend,
		transport: opts.Transport,
		events:    opts.Bus,
		log:       log,
		selfID:    opts.SelfID,
		pageSize:  opts.PageSize,
		cache:     cache,
		unread:    NewUnreadTracker(),
		presence:  NewPresenceTracker(opts.TypingWindow),
		drafts:    NewDraftStore(opts.KV),
		settings:  NewSettingsStore(opts.KV),
		outbox:    NewOutbox(cache, opts.Backend, opts.Logger),
		chats:     map[string]Chat{},
		fetchSeq:  map[string]uint64{},
		fetchDone: map[string]uint64{},
		now:       time.Now,
	}, nil
}

// Start restores persisted drafts, subscribes to the event bus, and begins
// the typing-decay sweep. It returns once wiring is done.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.drafts.LoadAll(ctx); err != nil {
		// Non-fatal: the session runs without restored drafts.
		c.log.Warn("restore drafts", "error", err)
	}
	if err := c.events.Subscribe(ctx, c.HandleEvent); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.presence.Expire(c.now())
			}
		}
	}()
	return nil
}

// Open makes chatID the active chat. Re-opening the active chat is a no-op
// returning the cached state. Otherwise the previous chat's draft is
// persisted, metadata and (when not cached) the first message page are
// fetched, the unread counter is reset, and the transport joins the room.
func (c *Controller) Open(ctx context.Context, chatID string) (Snapshot, error) {
	c.mu.Lock()
	if c.activeID == chatID {
		snap := c.snapshot(chatID)
		c.mu.Unlock()
		return snap, nil
	}
	previous := c.activeID
	c.mu.Unlock()

	if previous != "" {
		if err := c.drafts.FlushChat(ctx, previous); err != nil {
			c.log.Warn("persist draft on switch", "chat_id", previous, "error", err)
		}
	}

	meta, err := c.chatMeta(ctx, chatID)
	if err != nil {
		return Snapshot{}, err
	}

	if !c.cache.Has(chatID) {
		if err := c.fetchPage(ctx, chatID, 1, true); err != nil {
			return Snapshot{}, err
		}
	}
	c.cache.Touch(chatID)

	if err := c.MarkRead(ctx, chatID); err != nil {
		// Provisional reset already reconciled by MarkRead; opening proceeds.
		c.log.Warn("mark read on open", "chat_id", chatID, "error", err)
	}

	// Previously opened rooms stay joined so their messages keep arriving
	// and feeding the unread counters; only Close leaves a room.
	if err := c.transport.Join(chatID); err != nil {
		c.log.Warn("join chat room", "chat_id", chatID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[chatID] = meta
	c.activeID = chatID
	return c.snapshot(chatID), nil
}

// Close deactivates the current chat: persists its draft, leaves the room,
// and clears the active pointer.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	active := c.activeID
	c.activeID = ""
	c.mu.Unlock()
	if active == "" {
		return nil
	}
	if err := c.drafts.FlushChat(ctx, active); err != nil {
		c.log.Warn("persist draft on close", "chat_id", active, "error", err)
	}
	if err := c.transport.Leave(active); err != nil {
		c.log.Warn("leave chat room", "chat_id", active, "error", err)
	}
	return nil
}

// Shutdown flushes all dirty drafts before the process exits.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.Close(ctx); err != nil {
		return err
	}
	return c.drafts.Flush(ctx)
}

// LoadOlder fetches the next older page for the active chat and prepends it.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()
	if active == "" {
		return E(CodeValidation, "load older", errors.New("no active chat"))
	}
	if !c.cache.HasMore(active) {
		return nil
	}
	return c.fetchPage(ctx, active, c.cache.NextPage(active), false)
}

// Send issues an optimistic send on the active chat. The draft is cleared
// only on success.
func (c *Controller) Send(ctx context.Context, content string, typ MessageType, replyToID string) (Message, error) {
	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()
	if active == "" {
		return Message{}, E(CodeValidation, "send message", errors.New("no active chat"))
	}

	msg, err := c.outbox.Send(ctx, active, c.selfID, content, typ, replyToID)
	if err != nil {
		return Message{}, err
	}
	c.drafts.Clear(active)
	c.touchChat(msg)
	return msg, nil
}

// RetrySend re-dispatches a failed optimistic send.
func (c *Controller) RetrySend(ctx context.Context, clientID string) (Message, error) {
	msg, err := c.outbox.Retry(ctx, clientID)
	if err != nil {
		return Message{}, err
	}
	c.touchChat(msg)
	return msg, nil
}

// DismissSend drops a failed optimistic send.
func (c *Controller) DismissSend(clientID string) {
	c.outbox.Dismiss(clientID)
}

// MarkRead resets the chat's unread counter. The local reset is provisional:
// when the backend acknowledgment fails the prior value is restored.
func (c *Controller) MarkRead(ctx context.Context, chatID string) error {
	prior := c.unread.Reset(chatID)
	if err := c.backend.MarkChatRead(ctx, chatID); err != nil {
		c.unread.Restore(chatID, prior)
		if CodeOf(err) != CodeUnknown {
			return err
		}
		return E(CodeNetwork, "mark read", err)
	}
	return nil
}

// MarkAllRead acknowledges every unread chat. Each counter is zeroed only
// once its own acknowledgment succeeds; failed chats keep their counts and
// the collected errors are returned.
func (c *Controller) MarkAllRead(ctx context.Context) error {
	var errs []error
	for chatID := range c.unread.Snapshot() {
		if err := c.MarkRead(ctx, chatID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Typing forwards the local user's typing state, debounced so keystroke
// storms do not flood the transport.
func (c *Controller) Typing(isTyping bool) error {
	c.mu.Lock()
	active := c.activeID
	now := c.now()
	if active == "" {
		c.mu.Unlock()
		return nil
	}
	if isTyping == c.lastTypingState && now.Sub(c.lastTypingSent) < typingResendInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastTypingState = isTyping
	c.lastTypingSent = now
	c.mu.Unlock()

	return c.transport.Typing(TypingEvent{ChatID: active, UserID: c.selfID, IsTyping: isTyping})
}

// CreateChat creates a chat on the backend and registers it locally.
func (c *Controller) CreateChat(ctx context.Context, data ChatCreate) (Chat, error) {
	created, err := c.backend.CreateChat(ctx, data)
	if err != nil {
		if CodeOf(err) != CodeUnknown {
			return Chat{}, err
		}
		return Chat{}, E(CodeNetwork, "create chat", err)
	}
	c.mu.Lock()
	c.chats[created.ID] = created
	c.mu.Unlock()
	return created, nil
}

// Search passes a message search through to the backend.
func (c *Controller) Search(ctx context.Context, chatID, term string, page Page) ([]Message, error) {
	if page.Size <= 0 {
		page.Size = c.pageSize
	}
	msgs, err := c.backend.SearchMessages(ctx, chatID, term, page)
	if err != nil {
		if CodeOf(err) != CodeUnknown {
			return nil, err
		}
		return nil, E(CodeNetwork, "search messages", err)
	}
	return msgs, nil
}

// HandleEvent routes one inbound transport event to the owning component.
func (c *Controller) HandleEvent(evt bus.Event) {
	switch evt.Kind {
	case EventMessage:
		var msg Message
		if err := json.Unmarshal(evt.Payload, &msg); err != nil {
			c.log.Warn("bad message event", "error", err)
			return
		}
		c.onMessage(msg)
	case EventTyping:
		var typing TypingEvent
		if err := json.Unmarshal(evt.Payload, &typing); err != nil {
			c.log.Warn("bad typing event", "error", err)
			return
		}
		if typing.UserID != c.selfID {
			c.presence.SetTyping(typing.ChatID, typing.UserID, typing.IsTyping, c.now())
		}
	case EventPresence:
		var presence PresenceEvent
		if err := json.Unmarshal(evt.Payload, &presence); err != nil {
			c.log.Warn("bad presence event", "error", err)
			return
		}
		c.presence.SetOnline(presence.UserID, presence.IsOnline)
	case EventConnected:
		c.onConnected()
	case EventDisconnected:
		c.onDisconnected()
	default:
		c.log.Debug("unhandled event kind", "kind", evt.Kind)
	}
}

func (c *Controller) onMessage(msg Message) {
	if msg.SendState == "" {
		msg.SendState = SendSent
	}
	if c.outbox.ObserveEcho(msg) {
		c.touchChat(msg)
		return
	}

	isNew := c.cache.Append(msg.ChatID, msg)
	c.touchChat(msg)

	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()
	if isNew && msg.ChatID != active && msg.AuthorID != c.selfID {
		c.unread.Increment(msg.ChatID)
	}
}

func (c *Controller) onConnected() {
	c.mu.Lock()
	c.connected = true
	resync := c.wasDisconnected
	c.wasDisconnected = false
	c.mu.Unlock()
	if resync {
		c.resync(context.Background())
	}
}

func (c *Controller) onDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.wasDisconnected = true
	c.mu.Unlock()
	// Stale presence must not be shown as live while the channel is down.
	c.presence.ClearTransient()
}

// resync restores consistency after a reconnect: push events during the
// disconnected window are lost, so unread counters are re-fetched wholesale
// and the active chat re-joins its room and refreshes its latest page.
// Pending optimistic sends are re-applied over the fetched history; entries
// the server already has (matched by client id) merge instead of duplicating.
func (c *Controller) resync(ctx context.Context) {
	counts, err := c.backend.GetUnreadChats(ctx)
	if err != nil {
		c.log.Warn("resync unread counts", "error", err)
	} else {
		c.unread.ReplaceAll(counts)
	}

	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()
	if active == "" {
		return
	}
	// The imported counter for the open chat is acknowledged, not just
	// zeroed locally, or the next unread fetch would resurrect it.
	if err := c.MarkRead(ctx, active); err != nil {
		c.log.Warn("resync mark read", "chat_id", active, "error", err)
	}

	if err := c.transport.Join(active); err != nil {
		c.log.Warn("resync join", "chat_id", active, "error", err)
	}
	if err := c.fetchPage(ctx, active, 1, true); err != nil {
		c.log.Warn("resync active page", "chat_id", active, "error", err)
	}
	for _, pending := range c.outbox.PendingFor(active) {
		c.cache.Append(active, pending)
	}
}

// fetchPage loads one page and merges it, guarded by per-chat generations:
// a result is discarded only when a more recent fetch for the same chat
// already completed. Late results for a no-longer-active chat still merge
// into that chat's cache; they never touch any other chat.
func (c *Controller) fetchPage(ctx context.Context, chatID string, page int, replace bool) error {
	c.mu.Lock()
	c.fetchSeq[chatID]++
	gen := c.fetchSeq[chatID]
	c.mu.Unlock()

	fetched, err := c.backend.ListMessages(ctx, chatID, Page{Page: page, Size: c.pageSize})
	if err != nil {
		if CodeOf(err) != CodeUnknown {
			return err
		}
		return E(CodeNetwork, "fetch messages", err)
	}

	c.mu.Lock()
	if gen <= c.fetchDone[chatID] {
		c.mu.Unlock()
		return nil
	}
	c.fetchDone[chatID] = gen
	c.mu.Unlock()

	c.cache.ApplyPage(chatID, fetched, replace)
	return nil
}

func (c *Controller) chatMeta(ctx context.Context, chatID string) (Chat, error) {
	c.mu.Lock()
	meta, ok := c.chats[chatID]
	c.mu.Unlock()
	if ok {
		return meta, nil
	}
	meta, err := c.backend.GetChatByID(ctx, chatID)
	if err != nil {
		if CodeOf(err) != CodeUnknown {
			return Chat{}, err
		}
		return Chat{}, E(CodeNetwork, "fetch chat", err)
	}
	c.mu.Lock()
	c.chats[chatID] = meta
	c.mu.Unlock()
	return meta, nil
}

// touchChat updates the chat registry's preview and last-activity ordering.
func (c *Controller) touchChat(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.chats[msg.ChatID]
	if !ok {
		entry = Chat{ID: msg.ChatID, Name: msg.ChatID, Type: ChatGeneral}
	}
	if msg.CreatedAt.After(entry.LastActivity) {
		entry.LastActivity = msg.CreatedAt
		entry.LastMessage = &LastMessage{
			Content:  msg.Content,
			AuthorID: msg.AuthorID,
			SentAt:   msg.CreatedAt,
		}
	}
	c.chats[msg.ChatID] = entry
}

// snapshot builds the open-chat state. Callers hold c.mu.
func (c *Controller) snapshot(chatID string) Snapshot {
	return Snapshot{
		Chat:     c.chats[chatID],
		Messages: c.cache.Messages(chatID),
		HasMore:  c.cache.HasMore(chatID),
		Draft:    c.drafts.Get(chatID),
	}
}

// Chats lists the known chats sorted by last activity, newest first.
func (c *Controller) Chats() []Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Chat, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveChat returns the id of the active chat, or "".
func (c *Controller) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Connected reports the push-channel status flag.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Messages returns the chat's cached chronological sequence.
func (c *Controller) Messages(chatID string) []Message {
	return c.cache.Messages(chatID)
}

// MessagesByDate returns the chat's messages grouped by calendar date.
func (c *Controller) MessagesByDate(chatID string) []DateGroup {
	return GroupByDate(c.cache.Messages(chatID))
}

// Unread returns the chat's unread counter.
func (c *Controller) Unread(chatID string) int {
	return c.unread.Count(chatID)
}

// UnreadTotal returns the aggregate unread badge value.
func (c *Controller) UnreadTotal() int {
	return c.unread.Total()
}

// UnreadCounts lists every non-zero counter sorted by chat id, including
// chats never opened locally whose counters arrived through a resync.
func (c *Controller) UnreadCounts() []UnreadCount {
	snap := c.unread.Snapshot()
	out := make([]UnreadCount, 0, len(snap))
	for chatID, n := range snap {
		out = append(out, UnreadCount{ChatID: chatID, Unread: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// TypingUsers lists who is typing in the chat. While the transport is down
// the list is empty: stale signals must not be displayed as live.
func (c *Controller) TypingUsers(chatID string) []string {
	if !c.Connected() {
		return nil
	}
	return c.presence.TypingUsers(chatID, c.now())
}

// OnlineUsers lists the online set, empty while disconnected.
func (c *Controller) OnlineUsers() []string {
	if !c.Connected() {
		return nil
	}
	return c.presence.OnlineUsers()
}

// Draft returns the chat's unsent draft text.
func (c *Controller) Draft(chatID string) string {
	return c.drafts.Get(chatID)
}

// SaveDraft overwrites the chat's draft in memory; persistence happens when
// the chat closes or the session shuts down.
func (c *Controller) SaveDraft(chatID, text string) {
	c.drafts.Save(chatID, text)
}

// Settings loads the persisted preferences.
func (c *Controller) Settings(ctx context.Context) (Settings, error) {
	return c.settings.Load(ctx)
}

// SaveSettings persists the preferences.
func (c *Controller) SaveSettings(ctx context.Context, settings Settings) error {
	return c.settings.Save(ctx, settings)
}

// MarkDeleted soft-deletes a cached message locally.
func (c *Controller) MarkDeleted(chatID, messageID string) {
	c.cache.MarkDeleted(chatID, messageID)
}
