package devserver

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"

	"github.com/pelusa-v/pelusa-sync/internal/chat"
)

// ConnLike abstracts the websocket connection so pumps are testable.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client is one websocket connection of one user.
type Client struct {
	ID     string
	UserID string
	Conn   ConnLike
	Send   chan []byte

	hub *Hub
}

// NewClient binds a connection to the hub.
func NewClient(id, userID string, conn ConnLike, hub *Hub) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 16),
		hub:    hub,
	}
}

// ReadPump consumes inbound frames until the connection drops. Outbound
// signals from the sync client are join_chat, leave_chat, and typing. The
// caller unregisters the client after ReadPump returns.
func (c *Client) ReadPump() {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame Frame) {
	switch frame.Kind {
	case "join_chat":
		var signal RoomSignal
		if err := json.Unmarshal(frame.Payload, &signal); err != nil || signal.ChatID == "" {
			return
		}
		c.hub.Join(c.UserID, signal.ChatID)
	case "leave_chat":
		var signal RoomSignal
		if err := json.Unmarshal(frame.Payload, &signal); err != nil || signal.ChatID == "" {
			return
		}
		c.hub.Leave(c.UserID, signal.ChatID)
	case "typing":
		var evt chat.TypingEvent
		if err := json.Unmarshal(frame.Payload, &evt); err != nil || evt.ChatID == "" {
			return
		}
		evt.UserID = c.UserID // the connection owns its identity
		c.hub.Typing(evt)
	}
}

// WritePump drains the send channel onto the socket.
func (c *Client) WritePump() {
	for data := range c.Send {
		_ = c.Conn.WriteMessage(websocket.TextMessage, data)
	}
}

// trySend enqueues without blocking; slow consumers drop frames.
func (c *Client) trySend(data []byte) {
	select {
	case c.Send <- data:
	default:
	}
}
