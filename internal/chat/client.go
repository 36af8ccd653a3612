package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/umar/roomchat/internal/auth"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	maxMessageSize  = 32 * 1024
	cleanupDeadline = 5 * time.Second
)

// Rooms resolves the room and identity of a connecting client.
type Rooms interface {
	UpsertUser(ctx context.Context, p models.Principal) error
	CreateOrGetRoom(ctx context.Context, name string) (*models.Room, error)
}

type HandlerConfig struct {
	JWTSecret     string
	AllowedOrigin string
	RatePerSecond float64
	RateBurst     int
	SendBuffer    int
}

// Handler upgrades authenticated requests on /ws/rooms/{room} and runs one
// Client per connection.
type Handler struct {
	rooms    Rooms
	router   *Router
	bus      *Bus
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHandler(rooms Rooms, router *Router, logger *slog.Logger, cfg HandlerConfig) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Handler{
		rooms:  rooms,
		router: router,
		bus:    router.bus,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigin),
		},
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// Shutdown sends a going-away close frame to every connection and runs
// their cleanup.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.close()
	}
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed == "" || allowed == "*" || origin == allowed
	}
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type Client struct {
	h       *Handler
	conn    *websocket.Conn
	sess    *Session
	sub     *Subscriber
	direct  chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Authenticate(r, h.cfg.JWTSecret)
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	roomName := mux.Vars(r)["room"]
	if err := h.rooms.UpsertUser(r.Context(), principal); err != nil {
		h.logger.Error("failed to upsert user", "error", err, "user_id", principal.ID)
		writeHTTPError(w, http.StatusInternalServerError, "internal error")
		return
	}
	room, err := h.rooms.CreateOrGetRoom(r.Context(), roomName)
	if err != nil {
		if errors.Is(err, database.ErrInvalidRoomName) {
			writeHTTPError(w, http.StatusBadRequest, "invalid room name")
			return
		}
		h.logger.Error("failed to resolve room", "error", err, "room", roomName)
		writeHTTPError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !room.IsActive {
		writeHTTPError(w, http.StatusForbidden, "room is not active")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		h:    h,
		conn: conn,
		sess: &Session{
			ConnID:    connID,
			RoomID:    room.ID,
			RoomName:  room.Name,
			Principal: principal,
		},
		sub:     NewSubscriber(connID, principal, h.cfg.SendBuffer),
		direct:  make(chan []byte, h.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.RateBurst),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  h.logger.With("conn_id", connID, "room_id", room.ID, "user_id", principal.ID),
	}
	c.join()
	go c.writePump()
	go c.readPump()
}

func (c *Client) join() {
	c.h.mu.Lock()
	c.h.clients[c] = struct{}{}
	c.h.mu.Unlock()

	c.h.bus.Join(c.sess.RoomID, c.sub)
	if p := c.h.router.presence; p != nil {
		if err := p.Add(c.ctx, c.sess.RoomID, c.sess.ConnID, c.sess.Principal); err != nil {
			c.logger.Warn("failed to add presence", "error", err)
		}
	}
	c.publishMember(c.ctx, EventUserJoined)
	c.logger.Info("client connected", "username", c.sess.Principal.Username)
}

func (c *Client) publishMember(ctx context.Context, kind EventKind) {
	p := c.sess.Principal
	ev, err := payloadEvent(kind, c.sess.RoomID, MemberPayload{
		UserID:      p.ID,
		Username:    p.Username,
		Name:        p.Name(),
		Role:        p.Role,
		RoleIcon:    p.RoleIcon,
		OnlineCount: c.h.bus.Subscribers(c.sess.RoomID),
	})
	if err != nil {
		c.logger.Error("failed to encode member event", "error", err)
		return
	}
	c.h.bus.Publish(ctx, ev)
}

// close leaves the room and releases the connection. Both pumps call it;
// only the first call does anything.
func (c *Client) close() {
	c.once.Do(func() {
		c.h.mu.Lock()
		delete(c.h.clients, c)
		c.h.mu.Unlock()

		c.h.bus.Leave(c.sess.RoomID, c.sub)
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupDeadline)
		defer cancel()
		if p := c.h.router.presence; p != nil {
			if err := p.Remove(ctx, c.sess.RoomID, c.sess.ConnID); err != nil {
				c.logger.Warn("failed to remove presence", "error", err)
			}
		}
		c.publishMember(ctx, EventUserLeft)

		close(c.done)
		c.conn.Close()
		c.logger.Info("client disconnected")
	})
}

// queue hands a reply to the write pump without blocking the reader.
func (c *Client) queue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.direct <- data:
	case <-c.done:
	default:
		c.logger.Warn("reply buffer full, dropping frame")
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("ws read error", "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.queue(c.h.router.errorFrame(c.sess, "", errRateLimited))
			continue
		}
		c.queue(c.h.router.Dispatch(c.ctx, c.sess, message))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.sub.Events():
			data, err := encodeEvent(ev, c.sess.Principal)
			if err != nil {
				c.logger.Error("failed to encode event", "error", err, "kind", ev.Kind)
				continue
			}
			if !c.write(websocket.TextMessage, data) {
				return
			}
		case data := <-c.direct:
			if !c.write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
			if p := c.h.router.presence; p != nil {
				if err := p.Refresh(c.ctx, c.sess.RoomID, c.sess.ConnID); err != nil {
					c.logger.Warn("failed to refresh presence", "error", err)
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug("ws write failed", "error", err)
		return false
	}
	return true
}
