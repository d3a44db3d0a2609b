package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Topic string          `json:"topic,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection subscribed to a set
// of topics.
type Client struct {
	ID     string
	UserID uuid.UUID
	Role   string
	Topics []Topic
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// Query: token (JWT), topics (comma-separated). The client's own
// private channel is always subscribed; requested topics are admitted
// only if the role may read them.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID uuid.UUID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		topics := []Topic{UserTopic(userID)}
		for _, raw := range strings.Split(c.Query("topics"), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			t := Topic(raw)
			if topicAllowed(t, userID, role) {
				topics = append(topics, t)
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			Role:   role,
			Topics: topics,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// topicAllowed gates subscriptions: management channels are
// recruiter-class, role channels require the matching role, private
// channels are owner-only. Waiting rooms and call rooms are open to
// any authenticated user.
func topicAllowed(t Topic, userID uuid.UUID, role string) bool {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "booth:") && strings.HasSuffix(s, ":management"):
		return role == auth.RoleAdmin || role == auth.RoleRecruiter || role == auth.RoleGlobalSupport
	case strings.HasPrefix(s, "booth:") && strings.HasSuffix(s, ":waiting"):
		return true
	case strings.HasPrefix(s, "call:"):
		return true
	case strings.HasPrefix(s, "role:"):
		return s == string(RoleTopic(role))
	case strings.HasPrefix(s, "user:"):
		return s == string(UserTopic(userID))
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		// Inbound traffic is heartbeat only; every mutation goes
		// through the HTTP API so the durable store commits first.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
