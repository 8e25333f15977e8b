// Package rest implements the chat.Backend port against the HTTP backend.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/pelusa-v/pelusa-sync/internal/chat"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

const requestTimeout = 10 * time.Second

const userHeader = "X-User-ID"

// Client talks to the REST backend. It maps transport failures to
// chat.CodeNetwork and 404s to chat.CodeNotFound so the session controller
// can apply the right propagation policy.
type Client struct {
	base   string
	userID string
	hc     *fasthttp.Client
	log    *logger.Logger
}

// NewClient builds a backend client rooted at baseURL.
func NewClient(baseURL, userID string, log *logger.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		userID: userID,
		hc: &fasthttp.Client{
			ReadTimeout:  requestTimeout,
			WriteTimeout: requestTimeout,
		},
		log: log.With("component", "rest"),
	}
}

func (c *Client) CreateChat(ctx context.Context, data chat.ChatCreate) (chat.Chat, error) {
	var created chat.Chat
	err := c.do(ctx, fasthttp.MethodPost, "/api/chats", data, &created)
	if err != nil {
		return chat.Chat{}, err
	}
	return created, nil
}

func (c *Client) GetChatByID(ctx context.Context, id string) (chat.Chat, error) {
	var found chat.Chat
	err := c.do(ctx, fasthttp.MethodGet, "/api/chats/"+url.PathEscape(id), nil, &found)
	if err != nil {
		return chat.Chat{}, err
	}
	return found, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string, page chat.Page) (chat.MessagePage, error) {
	path := fmt.Sprintf("/api/chats/%s/messages?page=%d&size=%d",
		url.PathEscape(chatID), page.Page, page.Size)
	var out chat.MessagePage
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return chat.MessagePage{}, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID string, out chat.Outgoing) (chat.Message, error) {
	var msg chat.Message
	err := c.do(ctx, fasthttp.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages", out, &msg)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/read", nil, nil)
}

func (c *Client) GetUnreadChats(ctx context.Context) ([]chat.UnreadCount, error) {
	var counts []chat.UnreadCount
	if err := c.do(ctx, fasthttp.MethodGet, "/api/chats/unread", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *Client) SearchMessages(ctx context.Context, chatID, term string, page chat.Page) ([]chat.Message, error) {
	path := "/api/chats/" + url.PathEscape(chatID) + "/search?term=" + url.QueryEscape(term) +
		"&page=" + strconv.Itoa(page.Page) + "&size=" + strconv.Itoa(page.Size)
	var out struct {
		Content []chat.Message `json:"content"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Content, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set(userHeader, c.userID)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return chat.E(chat.CodeValidation, op, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		return chat.E(chat.CodeNetwork, op, err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNotFound:
		return chat.E(chat.CodeNotFound, op, fmt.Errorf("status %d", status))
	case status == fasthttp.StatusBadRequest:
		return chat.E(chat.CodeValidation, op, fmt.Errorf("status %d", status))
	case status >= 400:
		return chat.E(chat.CodeNetwork, op, fmt.Errorf("status %d", status))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return chat.E(chat.CodeNetwork, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
