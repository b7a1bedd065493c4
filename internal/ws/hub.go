package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/IqraKhanZ/ChatNest/internal/metrics"
	"github.com/IqraKhanZ/ChatNest/internal/models"
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// PublishMessage 把一条已提交的消息作为 message.inserted 事件广播给本进程内的订阅者。
func (h *Hub) PublishMessage(_ context.Context, msg models.Message) error {
	b, err := encodeInserted(msg)
	if err != nil {
		return err
	}
	h.Deliver(msg.RoomID, b)
	return nil
}

// Deliver 向房间广播一段已编码的事件。房间没有订阅者时直接丢弃。
func (h *Hub) Deliver(roomID string, payload []byte) {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	room.broadcast <- payload
}

func encodeInserted(msg models.Message) ([]byte, error) {
	return json.Marshal(models.FeedEvent{Type: models.EventMessageInserted, RoomID: msg.RoomID, Message: &msg})
}

type RoomHub struct {
	roomID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewRoomHub(roomID string) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.FeedSubscribers.Inc()
			rh.presence(models.EventJoin, c)
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				rh.drop(c)
				rh.presence(models.EventLeave, c)
			}
		case msg := <-rh.broadcast:
			rh.fanout(msg)
		}
	}
}

func (rh *RoomHub) presence(kind string, c *Client) {
	evt := models.FeedEvent{Type: kind, RoomID: rh.roomID, UserID: c.userID, Username: c.uname, Online: rh.Online()}
	if b, err := json.Marshal(evt); err == nil {
		rh.fanout(b)
	}
}

// fanout 非阻塞写入每个订阅者；跟不上的订阅者被断开。
func (rh *RoomHub) fanout(msg []byte) {
	for c := range rh.clients {
		select {
		case c.send <- msg:
		default:
			metrics.FeedEventsDropped.Inc()
			rh.drop(c)
		}
	}
}

func (rh *RoomHub) drop(c *Client) {
	delete(rh.clients, c)
	close(c.send)
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
	metrics.FeedSubscribers.Dec()
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
