// Package client 是 ChatNest HTTP/WebSocket 接口的 Go 客户端，
// 同时实现 roomsync 所需的 Store、Profiles、Feed 与 Completer。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/roomsync"
	"github.com/IqraKhanZ/ChatNest/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("client: unauthorized")

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s", e.Status, e.Message)
}

// Unwrap 让调用方可以用 errors.Is 判断 404 与 401。
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return roomsync.ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	sess    *session.Session

	refreshMu sync.Mutex
}

// New 创建客户端。请求使用 sess 当前的 access token。
func New(baseURL string, sess *session.Session) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sess:    sess,
	}
}

// do 发送 JSON 请求。带 token 的请求遇到 401 时刷新一次 token 后重试，
// /auth/ 下的接口不重试。
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}
	tok := c.sess.Token()
	err := c.send(ctx, method, path, payload, tok, out)
	if tok == "" || strings.HasPrefix(path, "/api/v1/auth/") || !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if !c.renew(ctx, tok) {
		return err
	}
	return c.send(ctx, method, path, payload, c.sess.Token(), out)
}

// renew 在 session 仍持有 stale 时刷新 token。并发请求只刷新一次，
// 后到的请求直接使用已刷新的 token。
func (c *Client) renew(ctx context.Context, stale string) bool {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if tok := c.sess.Token(); tok != "" && tok != stale {
		return true
	}
	if _, err := c.Refresh(ctx); err != nil {
		log.Debug().Err(err).Msg("token refresh")
		return false
	}
	return true
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, tok string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Room struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Passkey string `json:"passkey"`
	Members int64  `json:"members"`
	YouAre  string `json:"you_are"`
	Online  int    `json:"online"`
}

func (c *Client) Register(ctx context.Context, email, username, password string) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "username": username, "password": password,
	}, &p)
	return p, err
}

// Login 返回登录得到的身份，由调用方决定是否写入 session。
func (c *Client) Login(ctx context.Context, email, password string) (session.Identity, error) {
	var out struct {
		AccessToken  string  `json:"access_token"`
		RefreshToken string  `json:"refresh_token"`
		User         Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, &out); err != nil {
		return session.Identity{}, err
	}
	return session.Identity{
		UserID:       out.User.ID,
		Username:     out.User.Username,
		Email:        out.User.Email,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}, nil
}

// Refresh 轮换 token 对并更新 session。
func (c *Client) Refresh(ctx context.Context) (session.Identity, error) {
	id, ok := c.sess.Current()
	if !ok || id.RefreshToken == "" {
		return session.Identity{}, ErrUnauthorized
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": id.RefreshToken}, &out); err != nil {
		return session.Identity{}, err
	}
	id.AccessToken, id.RefreshToken = out.AccessToken, out.RefreshToken
	c.sess.SignIn(id)
	return id, nil
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, &p)
	return p, err
}

// DeleteAccount 删除当前账号并清除 session。已发送的消息保留，作者置空。
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/me", nil, nil); err != nil {
		return err
	}
	c.sess.SignOut()
	return nil
}

func (c *Client) CreateRoom(ctx context.Context, title string) (Room, error) {
	var out struct {
		Room Room `json:"room"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/rooms", map[string]string{"title": title}, &out)
	return out.Room, err
}

// JoinRoom 通过口令加入房间。
func (c *Client) JoinRoom(ctx context.Context, passkey string) (room Room, alreadyMember bool, err error) {
	var out struct {
		Room          Room `json:"room"`
		AlreadyMember bool `json:"already_member"`
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/rooms/join", map[string]string{"passkey": passkey}, &out)
	return out.Room, out.AlreadyMember, err
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/rooms", nil, &out)
	return out.Rooms, err
}

func (c *Client) Room(ctx context.Context, id string) (Room, error) {
	var out struct {
		Room Room `json:"room"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+id, nil, &out)
	return out.Room, err
}

func (c *Client) Members(ctx context.Context, roomID string) ([]Profile, error) {
	var out struct {
		Members []Profile `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+roomID+"/members", nil, &out)
	return out.Members, err
}
