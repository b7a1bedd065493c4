package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Gate 错误，Serve 据此映射 HTTP 状态码。
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRoomNotFound = errors.New("room not found")
)

// Subscriber 是通过鉴权的订阅者身份。
type Subscriber struct {
	UserID   string
	Username string
}

// Gate 在升级连接之前校验 token 与房间成员身份。
type Gate func(ctx context.Context, token, roomID string) (Subscriber, error)

type Client struct {
	room   *RoomHub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	uname  string
}

// Serve 处理 /ws?room_id=&token=，连接建立后只下行推送房间事件。
func Serve(h *Hub, gate Gate, allowedOrigins []string, env string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin(allowedOrigins, env)}
	return func(c *gin.Context) {
		roomID := c.Query("room_id")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
			return
		}

		// Token via token query param or Authorization header
		token := c.Query("token")
		authz := c.GetHeader("Authorization")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		sub, err := gate(c.Request.Context(), token, roomID)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		case errors.Is(err, ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
			return
		case errors.Is(err, ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		default:
			log.Error().Err(err).Str("room_id", roomID).Msg("feed gate")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open feed"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("ws upgrade")
			return
		}
		rh := h.GetRoom(roomID)
		client := &Client{room: rh, conn: conn, send: make(chan []byte, 256), userID: sub.UserID, uname: sub.Username}
		rh.register <- client

		go client.writePump()
		client.readPump()
	}
}

func checkOrigin(allowed []string, env string) func(r *http.Request) bool {
	allow := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allow[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// 非浏览器客户端不带 Origin。
		if origin == "" || env == "dev" || allow[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// readPump 只负责心跳与断开检测，订阅者不通过 feed 上行消息。
func (c *Client) readPump() {
	defer func() {
		c.room.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
