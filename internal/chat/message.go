package chat

import "time"

type ChatType string

const (
	ChatGeneral ChatType = "general"
	ChatNode    ChatType = "node"
	ChatProject ChatType = "project"
	ChatDirect  ChatType = "direct"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type SendState string

const (
	SendPending SendState = "pending"
	SendSent    SendState = "sent"
	SendFailed  SendState = "failed"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "message deleted"

// Chat is the local view of one room.
type Chat struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         ChatType     `json:"type"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	LastActivity time.Time    `json:"last_activity"`
}

// LastMessage is the preview summary shown on the chat list.
type LastMessage struct {
	Content  string    `json:"content"`
	AuthorID string    `json:"author_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Message is one cached chat message. ClientID is the client-assigned id of
// an optimistic send; it survives the swap to the server id so echoed push
// events can be matched to their pending entry.
type Message struct {
	ID        string      `json:"id"`
	ClientID  string      `json:"client_id,omitempty"`
	ChatID    string      `json:"chat_id"`
	AuthorID  string      `json:"author_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	Deleted   bool        `json:"deleted"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
	SendState SendState   `json:"send_state"`
}

// Outgoing is the body of a send request.
type Outgoing struct {
	ClientID  string      `json:"client_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
}

// Page addresses one page of a paginated listing.
type Page struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// MessagePage is one fetched page, ordered newest-first as the backend
// returns it. Last reports whether this was the final page.
type MessagePage struct {
	Content []Message `json:"content"`
	Last    bool      `json:"last"`
}

// UnreadCount is one entry of the backend's unread listing.
type UnreadCount struct {
	ChatID string `json:"chat_id"`
	Unread int    `json:"unread_count"`
}

// ChatCreate is the body of a chat creation request.
type ChatCreate struct {
	Name string   `json:"name"`
	Type ChatType `json:"type"`
}

// Event kinds routed by the session controller.
const (
	EventMessage      = "message"
	EventTyping       = "typing"
	EventPresence     = "presence"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// TypingEvent is the payload of a typing push event and of the outbound
// typing signal.
type TypingEvent struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceEvent is the payload of an online/offline push event.
type PresenceEvent struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// DateGroup is a calendar-date slice of a chat's messages for display.
type DateGroup struct {
	Date     string    `json:"date"` // YYYY-MM-DD, local time
	Messages []Message `json:"messages"`
}

// GroupByDate splits a chronological message list into calendar-date groups.
func GroupByDate(msgs []Message) []DateGroup {
	var groups []DateGroup
	for _, m := range msgs {
		date := m.CreatedAt.Local().Format("2006-01-02")
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DateGroup{Date: date})
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, m)
	}
	return groups
}

// Settings is the small persisted preferences object.
type Settings struct {
	Sound                bool `json:"sound"`
	DesktopNotifications bool `json:"desktop_notifications"`
	EnterToSend          bool `json:"enter_to_send"`
	GroupByDate          bool `json:"group_by_date"`
}

// DefaultSettings are used when nothing was persisted yet.
func DefaultSettings() Settings {
	return Settings{Sound: true, DesktopNotifications: true, EnterToSend: true, GroupByDate: true}
}
