package chat

import "context"

// Backend is the REST collaborator. All calls are blocking and may be issued
// concurrently; the controller tolerates interleaved completions.
type Backend interface {
	CreateChat(ctx context.Context, data ChatCreate) (Chat, error)
	GetChatByID(ctx context.Context, id string) (Chat, error)
	ListMessages(ctx context.Context, chatID string, page Page) (MessagePage, error)
	SendMessage(ctx context.Context, chatID string, out Outgoing) (Message, error)
	MarkChatRead(ctx context.Context, chatID string) error
	GetUnreadChats(ctx context.Context) ([]UnreadCount, error)
	SearchMessages(ctx context.Context, chatID, term string, page Page) ([]Message, error)
}

// Transport sends fire-and-forget signals on the push channel. Inbound
// events arrive through the injected bus, not through this interface.
type Transport interface {
	Join(chatID string) error
	Leave(chatID string) error
	Typing(evt TypingEvent) error
}
