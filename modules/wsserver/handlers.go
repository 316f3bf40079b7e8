package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/example/chat-fanout-demo/modules/fanout"
	"github.com/example/chat-fanout-demo/modules/identity"
	"github.com/example/chat-fanout-demo/modules/presence"
)

// Rate limiting constants
const (
	messagesPerSecond = 10
	burstSize         = 20
)

// authLocalKey carries the Authorization header from the upgrade request
// into the WebSocket handler.
const authLocalKey = "authorization"

// InboundFrame is the message a client sends on a chat socket.
type InboundFrame struct {
	Content string `json:"content"`
}

// ErrorFrame is returned to the sender when a submission is rejected.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(maxTokens, refillRate int) *rateLimiter {
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	tokensToAdd := int(elapsed.Seconds()) * r.refillRate
	if tokensToAdd > 0 {
		r.tokens += tokensToAdd
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.lastRefill = now
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	verifier    *identity.Verifier
	registry    *fanout.Registry
	broadcaster *fanout.Broadcaster
	tracker     *presence.Tracker
	logger      *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(verifier *identity.Verifier, registry *fanout.Registry, broadcaster *fanout.Broadcaster, tracker *presence.Tracker) *Handlers {
	return &Handlers{
		verifier:    verifier,
		registry:    registry,
		broadcaster: broadcaster,
		tracker:     tracker,
		logger:      slog.Default(),
	}
}

// mount registers all HTTP and WebSocket routes on a Fiber app.
func (h *Handlers) mount(app *fiber.App) {
	// Health check
	app.Get("/health", h.HealthCheck)

	// WebSocket upgrade middleware. Fiber locals do not survive the
	// upgrade hijack unless captured here.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(authLocalKey, c.Get(fiber.HeaderAuthorization))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket endpoints
	app.Get("/ws/chat/:id", websocket.New(h.HandleGroupChat))
	app.Get("/ws/private/:id", websocket.New(h.HandlePrivateChat))
	app.Get("/ws/notifications", websocket.New(h.HandleNotifications))

	// REST API routes
	api := app.Group("/api/v1")
	api.Get("/presence/:id", h.GetPresence)
}

// HandleGroupChat serves /ws/chat/:id.
func (h *Handlers) HandleGroupChat(c *websocket.Conn) {
	chatID, err := parseRoomID(c.Params("id"))
	if err != nil {
		h.closeWith(c, websocket.ClosePolicyViolation, "invalid room id")
		return
	}
	h.serve(c, fanout.GroupRoomKey(chatID), &fanout.RoomRef{GroupChatID: chatID})
}

// HandlePrivateChat serves /ws/private/:id.
func (h *Handlers) HandlePrivateChat(c *websocket.Conn) {
	chatID, err := parseRoomID(c.Params("id"))
	if err != nil {
		h.closeWith(c, websocket.ClosePolicyViolation, "invalid room id")
		return
	}
	h.serve(c, fanout.PrivateRoomKey(chatID), &fanout.RoomRef{PrivateChatID: chatID})
}

// HandleNotifications serves /ws/notifications. The room is derived from
// the authenticated user, and the socket is receive only.
func (h *Handlers) HandleNotifications(c *websocket.Conn) {
	h.serve(c, "", nil)
}

// serve runs the handshake and the read loop for one socket. A nil ref
// marks a receive-only socket; its room key is the caller's notifications
// room.
func (h *Handlers) serve(c *websocket.Conn, roomKey string, ref *fanout.RoomRef) {
	ctx := context.Background()

	authHeader, _ := c.Locals(authLocalKey).(string)
	ident, err := h.verifier.VerifyBearer(ctx, authHeader)
	if err != nil {
		h.logger.Info("WebSocket auth rejected", "error", err)
		h.closeWith(c, websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	session := fanout.NewSession()
	if !session.Authenticate(ident.UserID) {
		h.closeWith(c, websocket.CloseInternalServerErr, "session setup failed")
		return
	}

	if roomKey == "" {
		roomKey = fanout.NotificationsRoomKey(ident.UserID)
	}
	reg, ok := h.registry.Register(roomKey, session)
	if !ok {
		h.closeWith(c, websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	defer func() {
		h.registry.Deregister(reg)
		session.MarkClosed()
	}()

	// Write pump. The session queue is the single route to the socket:
	// broadcasts and error frames alike go through Enqueue, so this
	// goroutine is the only writer on the conn. It drains until
	// Deregister closes the queue, then tears down the socket so the
	// read loop unblocks.
	go func() {
		for payload := range session.Outbound() {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("WebSocket write failed", "sessionID", session.ID(), "error", err)
				break
			}
		}
		c.Close()
	}()

	h.logger.Info("WebSocket connected",
		"sessionID", session.ID(),
		"userID", ident.UserID,
		"room", roomKey)

	limiter := newRateLimiter(burstSize, messagesPerSecond)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "sessionID", session.ID(), "error", err)
			}
			break
		}

		if session.State() != fanout.StateSubscribed {
			h.logger.Debug("dropping frame from non-subscribed session",
				"sessionID", session.ID(),
				"state", session.State().String())
			continue
		}

		h.tracker.Touch(ident.UserID)

		if ref == nil {
			h.sendError(session, "this channel is receive-only")
			continue
		}

		if !limiter.allow() {
			h.sendError(session, "Rate limit exceeded, please slow down")
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(msgBytes, &frame); err != nil {
			h.sendError(session, "Invalid message format")
			continue
		}

		if _, err := h.broadcaster.Submit(ctx, ident.UserID, *ref, frame.Content); err != nil {
			h.sendError(session, submissionError(err))
			continue
		}
	}

	h.logger.Info("WebSocket disconnected", "sessionID", session.ID(), "userID", ident.UserID)
}

// submissionError maps a Submit error to a client-safe message.
func submissionError(err error) string {
	switch {
	case errors.Is(err, fanout.ErrInvalidRoomReference):
		return "room not found"
	case errors.Is(err, fanout.ErrPersistenceFailure):
		return "message could not be saved, please retry"
	default:
		return err.Error()
	}
}

func parseRoomID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, strconv.IntSize)
	if err != nil || id == 0 {
		return 0, errors.New("room id must be a positive integer")
	}
	return uint(id), nil
}

// sendError queues an error frame for the write pump. Enqueueing keeps the
// pump the conn's only writer; concurrent writes on a websocket conn are
// forbidden by the transport.
func (h *Handlers) sendError(session *fanout.Session, errMsg string) {
	msgBytes, err := json.Marshal(ErrorFrame{Type: "error", Error: errMsg})
	if err != nil {
		h.logger.Error("Failed to marshal error message", "error", err)
		return
	}
	if !session.Enqueue(msgBytes) {
		h.logger.Debug("dropped error frame", "sessionID", session.ID())
	}
}

// closeWith sends a close frame and releases the socket without ever
// registering a session.
func (h *Handlers) closeWith(c *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.Close()
}

// REST Handlers

// GetPresence handles presence queries (GET /api/v1/presence/:id).
func (h *Handlers) GetPresence(c *fiber.Ctx) error {
	userID, err := parseRoomID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user id must be a positive integer",
		})
	}

	status, err := h.tracker.Status(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to resolve presence",
		})
	}
	return c.JSON(fiber.Map{
		"user_id":   userID,
		"online":    status.Online,
		"last_seen": status.LastSeen,
	})
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "healthy",
		"service":  "chat-fanout-demo",
		"sessions": h.registry.SessionCount(),
	})
}
