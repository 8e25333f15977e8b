package devserver

import (
	"embed"
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-sync/internal/chat"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

//go:embed views/*.html
var viewsFS embed.FS

const userHeader = "X-User-ID"

// NewApp builds the fiber application serving the REST contract, the
// websocket push endpoint, and a status page.
func NewApp(hub *Hub, log *logger.Logger) *fiber.App {
	engine := html.NewFileSystem(http.FS(viewsFS), ".html")
	app := fiber.New(fiber.Config{Views: engine, DisableStartupMessage: true})

	app.Get("/", func(c *fiber.Ctx) error {
		clients, chats, messages := hub.Stats()
		return c.Render("views/status", fiber.Map{
			"Clients":  clients,
			"Chats":    chats,
			"Messages": messages,
		})
	})

	app.Get("/api/ws", websocket.New(func(conn *websocket.Conn) {
		userID := conn.Query("user")
		if userID == "" {
			userID = "anonymous"
		}
		client := NewClient(uuid.NewString(), userID, conn, hub)
		hub.RegisterChan <- client
		defer func() {
			hub.UnregisterChan <- client
			close(client.Send)
		}()
		go client.WritePump()
		client.ReadPump()
	}))

	app.Post("/api/chats", func(c *fiber.Ctx) error {
		var data chat.ChatCreate
		if err := c.BodyParser(&data); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		created, ok := hub.CreateChat(data)
		if !ok {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	app.Get("/api/chats/unread", func(c *fiber.Ctx) error {
		return c.JSON(hub.UnreadChats(userOf(c)))
	})

	app.Get("/api/chats/:id", func(c *fiber.Ctx) error {
		found, ok := hub.ChatByID(c.Params("id"))
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.JSON(found)
	})

	app.Get("/api/chats/:id/messages", func(c *fiber.Ctx) error {
		page, ok := hub.ListMessages(c.Params("id"), c.QueryInt("page", 1), c.QueryInt("size", 50))
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.JSON(page)
	})

	app.Post("/api/chats/:id/messages", func(c *fiber.Ctx) error {
		var out chat.Outgoing
		if err := c.BodyParser(&out); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		if out.Content == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		msg, ok := hub.AppendMessage(c.Params("id"), userOf(c), out)
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.Status(fiber.StatusCreated).JSON(msg)
	})

	app.Post("/api/chats/:id/read", func(c *fiber.Ctx) error {
		if !hub.MarkRead(userOf(c), c.Params("id")) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/api/chats/:id/search", func(c *fiber.Ctx) error {
		hits := hub.SearchMessages(c.Params("id"), c.Query("term"), c.QueryInt("page", 1), c.QueryInt("size", 50))
		return c.JSON(fiber.Map{"content": hits})
	})

	log.Info("devserver routes registered")
	return app
}

func userOf(c *fiber.Ctx) string {
	if user := c.Get(userHeader); user != "" {
		return user
	}
	return "anonymous"
}
