package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/IqraKhanZ/ChatNest/internal/models"
	"github.com/IqraKhanZ/ChatNest/internal/roomsync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Open 订阅房间的 message.inserted 事件。握手返回 401 时刷新一次 token 后重连。
func (c *Client) Open(ctx context.Context, f roomsync.Filter) (roomsync.Handle, error) {
	tok := c.sess.Token()
	h, err := c.dial(ctx, f.RoomID, tok)
	if tok != "" && errors.Is(err, ErrUnauthorized) && c.renew(ctx, tok) {
		return c.dial(ctx, f.RoomID, c.sess.Token())
	}
	return h, err
}

func (c *Client) dial(ctx context.Context, roomID, tok string) (roomsync.Handle, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"room_id": {roomID}, "token": {tok}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}
	h := &feedHandle{
		conn:   conn,
		roomID: roomID,
		events: make(chan roomsync.Record, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.read()
	return h, nil
}

type feedHandle struct {
	conn   *websocket.Conn
	roomID string
	events chan roomsync.Record
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (h *feedHandle) Events() <-chan roomsync.Record { return h.events }

// Close 关闭连接并等待读协程退出，返回后 Events 已关闭。
func (h *feedHandle) Close() error {
	h.once.Do(func() {
		close(h.quit)
		_ = h.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.err = h.conn.Close()
	})
	<-h.done
	return h.err
}

func (h *feedHandle) read() {
	defer close(h.done)
	defer close(h.events)
	for {
		var evt models.FeedEvent
		if err := h.conn.ReadJSON(&evt); err != nil {
			select {
			case <-h.quit:
			default:
				log.Debug().Err(err).Str("room_id", h.roomID).Msg("feed read")
			}
			return
		}
		if evt.Type != models.EventMessageInserted || evt.Message == nil {
			continue
		}
		select {
		case h.events <- toRecord(*evt.Message):
		case <-h.quit:
			return
		}
	}
}
