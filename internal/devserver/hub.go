// Package devserver is a self-contained fake backend: it serves the REST
// contract and the websocket push channel so the sync client can run end to
// end without the real message store.
package devserver

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-sync/internal/chat"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

// Frame is the websocket envelope in both directions.
type Frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomSignal is the payload of join_chat / leave_chat frames.
type RoomSignal struct {
	ChatID string `json:"chat_id"`
}

// Hub keeps the fake backend's chats, messages, room memberships, and
// connected clients.
type Hub struct {
	mu sync.RWMutex

	clients map[string]*Client            // connection id -> client
	byUser  map[string]map[string]*Client // user id -> connection id -> client

	chats    map[string]chat.Chat
	messages map[string][]chat.Message       // chat id -> chronological
	rooms    map[string]map[string]struct{}  // chat id -> user ids joined
	unread   map[string]map[string]int       // user id -> chat id -> count
	byClient map[string]chat.Message         // client message id -> stored copy

	RegisterChan   chan *Client
	UnregisterChan chan *Client

	log *logger.Logger
	now func() time.Time
}

// NewHub seeds the hub with a general chat, matching what a fresh backend
// deployment exposes.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		clients:        map[string]*Client{},
		byUser:         map[string]map[string]*Client{},
		chats:          map[string]chat.Chat{},
		messages:       map[string][]chat.Message{},
		rooms:          map[string]map[string]struct{}{},
		unread:         map[string]map[string]int{},
		byClient:       map[string]chat.Message{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		log:            log.With("component", "devserver"),
		now:            time.Now,
	}
	h.chats["general"] = chat.Chat{ID: "general", Name: "general", Type: chat.ChatGeneral}
	return h
}

// Start consumes the register/unregister channels and broadcasts presence.
func (h *Hub) Start() {
	for {
		select {
		case client := <-h.RegisterChan:
			h.mu.Lock()
			h.clients[client.ID] = client
			conns := h.byUser[client.UserID]
			if conns == nil {
				conns = map[string]*Client{}
				h.byUser[client.UserID] = conns
			}
			first := len(conns) == 0
			conns[client.ID] = client
			h.mu.Unlock()
			if first {
				h.broadcastPresence(client.UserID, true)
			}

		case client := <-h.UnregisterChan:
			h.mu.Lock()
			delete(h.clients, client.ID)
			if conns, ok := h.byUser[client.UserID]; ok {
				delete(conns, client.ID)
				if len(conns) == 0 {
					delete(h.byUser, client.UserID)
				}
			}
			_, stillConnected := h.byUser[client.UserID]
			last := !stillConnected
			if last {
				for chatID, members := range h.rooms {
					delete(members, client.UserID)
					if len(members) == 0 {
						delete(h.rooms, chatID)
					}
				}
			}
			h.mu.Unlock()
			if last {
				h.broadcastPresence(client.UserID, false)
			}
		}
	}
}

// CreateChat registers a new chat.
func (h *Hub) CreateChat(data chat.ChatCreate) (chat.Chat, bool) {
	name := strings.TrimSpace(data.Name)
	if name == "" {
		return chat.Chat{}, false
	}
	if data.Type == "" {
		data.Type = chat.ChatGeneral
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	created := chat.Chat{ID: id, Name: name, Type: data.Type, LastActivity: h.now().UTC()}
	h.chats[id] = created
	return created, true
}

// ChatByID looks a chat up.
func (h *Hub) ChatByID(id string) (chat.Chat, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.chats[id]
	return c, ok
}

// ListMessages pages a chat's history newest-first, mirroring the real
// backend's contract: page 1 holds the most recent messages.
func (h *Hub) ListMessages(chatID string, page, size int) (chat.MessagePage, bool) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.chats[chatID]; !ok {
		return chat.MessagePage{}, false
	}
	history := h.messages[chatID]
	total := len(history)

	newestFirst := make([]chat.Message, total)
	for i, m := range history {
		newestFirst[total-1-i] = m
	}
	start := (page - 1) * size
	if start >= total {
		return chat.MessagePage{Last: true}, true
	}
	end := start + size
	if end > total {
		end = total
	}
	out := make([]chat.Message, end-start)
	copy(out, newestFirst[start:end])
	return chat.MessagePage{Content: out, Last: end == total}, true
}

// AppendMessage stores a send and fans it out to the chat's room, including
// the author's own connections so their other devices converge. Repeated
// client ids return the stored copy without duplicating.
func (h *Hub) AppendMessage(chatID, authorID string, out chat.Outgoing) (chat.Message, bool) {
	h.mu.Lock()
	if _, ok := h.chats[chatID]; !ok {
		h.mu.Unlock()
		return chat.Message{}, false
	}
	if out.ClientID != "" {
		if existing, ok := h.byClient[out.ClientID]; ok {
			h.mu.Unlock()
			return existing, true
		}
	}
	if out.Type == "" {
		out.Type = chat.MessageText
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		ClientID:  out.ClientID,
		ChatID:    chatID,
		AuthorID:  authorID,
		Content:   out.Content,
		Type:      out.Type,
		ReplyToID: out.ReplyToID,
		CreatedAt: h.now().UTC(),
		SendState: chat.SendSent,
	}
	h.messages[chatID] = append(h.messages[chatID], msg)
	if out.ClientID != "" {
		h.byClient[out.ClientID] = msg
	}
	entry := h.chats[chatID]
	entry.LastActivity = msg.CreatedAt
	entry.LastMessage = &chat.LastMessage{Content: msg.Content, AuthorID: authorID, SentAt: msg.CreatedAt}
	h.chats[chatID] = entry

	for userID := range h.byUser {
		if userID == authorID {
			continue
		}
		counts := h.unread[userID]
		if counts == nil {
			counts = map[string]int{}
			h.unread[userID] = counts
		}
		counts[chatID]++
	}
	h.mu.Unlock()

	h.fanoutToRoom(chatID, Frame{Kind: chat.EventMessage, Payload: marshal(msg)})
	return msg, true
}

// MarkRead zeroes the user's server-side counter for the chat.
func (h *Hub) MarkRead(userID, chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chats[chatID]; !ok {
		return false
	}
	if counts, ok := h.unread[userID]; ok {
		delete(counts, chatID)
	}
	return true
}

// UnreadChats lists the user's non-zero counters.
func (h *Hub) UnreadChats(userID string) []chat.UnreadCount {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := h.unread[userID]
	out := make([]chat.UnreadCount, 0, len(counts))
	for chatID, n := range counts {
		out = append(out, chat.UnreadCount{ChatID: chatID, Unread: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// SearchMessages filters a chat's history by substring, newest first.
func (h *Hub) SearchMessages(chatID, term string, page, size int) []chat.Message {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	term = strings.ToLower(strings.TrimSpace(term))
	h.mu.RLock()
	defer h.mu.RUnlock()

	var hits []chat.Message
	history := h.messages[chatID]
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Deleted {
			continue
		}
		if term == "" || strings.Contains(strings.ToLower(m.Content), term) {
			hits = append(hits, m)
		}
	}
	start := (page - 1) * size
	if start >= len(hits) {
		return nil
	}
	end := start + size
	if end > len(hits) {
		end = len(hits)
	}
	return hits[start:end]
}

// Join adds the user to the chat's push room.
func (h *Hub) Join(userID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[chatID]
	if members == nil {
		members = map[string]struct{}{}
		h.rooms[chatID] = members
	}
	members[userID] = struct{}{}
}

// Leave removes the user from the chat's push room.
func (h *Hub) Leave(userID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// Typing relays a typing signal to the other room members.
func (h *Hub) Typing(evt chat.TypingEvent) {
	frame := Frame{Kind: chat.EventTyping, Payload: marshal(evt)}
	h.fanoutToRoomExcept(evt.ChatID, evt.UserID, frame)
}

// Stats summarizes the hub for the status page.
func (h *Hub) Stats() (clients, chats, messages int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, history := range h.messages {
		messages += len(history)
	}
	return len(h.clients), len(h.chats), messages
}

func (h *Hub) broadcastPresence(userID string, online bool) {
	frame := Frame{Kind: chat.EventPresence, Payload: marshal(chat.PresenceEvent{UserID: userID, IsOnline: online})}
	data := encode(frame)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID {
			continue
		}
		c.trySend(data)
	}
}

func (h *Hub) fanoutToRoom(chatID string, frame Frame) {
	h.fanoutToRoomExcept(chatID, "", frame)
}

func (h *Hub) fanoutToRoomExcept(chatID, exceptUserID string, frame Frame) {
	data := encode(frame)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[chatID] {
		if userID == exceptUserID {
			continue
		}
		for _, c := range h.byUser[userID] {
			c.trySend(data)
		}
	}
}

func marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func encode(frame Frame) []byte {
	b, _ := json.Marshal(frame)
	return b
}
