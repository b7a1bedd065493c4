package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/IqraKhanZ/ChatNest/internal/models"
	"github.com/IqraKhanZ/ChatNest/internal/roomsync"
)

var (
	_ roomsync.Store     = (*Client)(nil)
	_ roomsync.Profiles  = (*Client)(nil)
	_ roomsync.Feed      = (*Client)(nil)
	_ roomsync.Completer = (*Client)(nil)
)

func toRecord(m models.Message) roomsync.Record {
	r := roomsync.Record{
		ID:        m.ID,
		ClientTag: m.ClientTag,
		RoomID:    m.RoomID,
		Content:   m.Content,
		IsAI:      m.IsAI,
		CreatedAt: m.CreatedAt,
	}
	if m.AuthorID != nil {
		r.AuthorID = *m.AuthorID
	}
	return r
}

func (c *Client) RecentMessages(ctx context.Context, roomID string, limit int) ([]roomsync.Record, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/api/v1/rooms/" + url.PathEscape(roomID) + "/messages?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]roomsync.Record, 0, len(out.Messages))
	for _, m := range out.Messages {
		recs = append(recs, toRecord(m))
	}
	return recs, nil
}

func (c *Client) InsertMessage(ctx context.Context, m roomsync.NewMessage) (roomsync.Record, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	in := map[string]any{"content": m.Content, "client_tag": m.ClientTag, "is_ai": m.IsAI}
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(m.RoomID)+"/messages", in, &out); err != nil {
		return roomsync.Record{}, err
	}
	return toRecord(out.Message), nil
}

// Profiles 批量查询用户名，未知 id 不出现在结果中。
func (c *Client) Profiles(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles?ids="+url.QueryEscape(strings.Join(ids, ",")), nil, &out); err != nil {
		return nil, err
	}
	for _, p := range out.Profiles {
		names[p.ID] = p.Username
	}
	return names, nil
}

func (c *Client) Profile(ctx context.Context, id string) (string, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return "", err
	}
	return p.Username, nil
}

// Complete 通过服务端代理获取 AI 回复。
func (c *Client) Complete(ctx context.Context, message string) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ai/reply", map[string]string{"message": message}, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}
