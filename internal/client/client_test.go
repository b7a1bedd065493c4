package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/auth"
	"github.com/IqraKhanZ/ChatNest/internal/config"
	"github.com/IqraKhanZ/ChatNest/internal/db"
	"github.com/IqraKhanZ/ChatNest/internal/roomsync"
	"github.com/IqraKhanZ/ChatNest/internal/server"
	"github.com/IqraKhanZ/ChatNest/internal/session"
	"github.com/IqraKhanZ/ChatNest/internal/ws"

	"github.com/gin-gonic/gin"
)

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, msg string) (string, error) {
	return "you said: " + msg, nil
}

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	cfg := config.Config{JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	srv := httptest.NewServer(server.SetupRouter(cfg, gdb, ws.NewHub(), nil, echoCompleter{}))
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return srv.URL
}

func signedIn(t *testing.T, baseURL, email, username string) (*Client, *session.Session) {
	t.Helper()
	ctx := context.Background()
	sess := session.New()
	c := New(baseURL, sess)
	if _, err := c.Register(ctx, email, username, "secret123"); err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	id, err := c.Login(ctx, email, "secret123")
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	sess.SignIn(id)
	return c, sess
}

func TestClient_AccountAndRooms(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	ann, annSess := signedIn(t, base, "ann@example.com", "ann")
	bob, _ := signedIn(t, base, "bob@example.com", "bob")

	me, err := ann.Me(ctx)
	if err != nil || me.Username != "ann" {
		t.Fatalf("Me() = %+v, %v", me, err)
	}

	room, err := ann.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if _, _, err := bob.JoinRoom(ctx, "NOPE2345"); !errors.Is(err, roomsync.ErrNotFound) {
		t.Errorf("JoinRoom(bad) error = %v, want ErrNotFound", err)
	}
	joined, already, err := bob.JoinRoom(ctx, room.Passkey)
	if err != nil || already || joined.ID != room.ID {
		t.Fatalf("JoinRoom() = %+v, %v, %v", joined, already, err)
	}
	if _, already, _ := bob.JoinRoom(ctx, room.Passkey); !already {
		t.Error("second JoinRoom() already = false, want true")
	}

	rooms, err := bob.Rooms(ctx)
	if err != nil || len(rooms) != 1 || rooms[0].YouAre != "Member" || rooms[0].Members != 2 {
		t.Errorf("Rooms() = %+v, %v", rooms, err)
	}
	members, err := ann.Members(ctx, room.ID)
	if err != nil || len(members) != 2 {
		t.Errorf("Members() = %+v, %v", members, err)
	}
	if _, err := ann.Profile(ctx, "missing"); !errors.Is(err, roomsync.ErrNotFound) {
		t.Errorf("Profile(missing) error = %v, want ErrNotFound", err)
	}
	names, err := ann.Profiles(ctx, []string{me.ID, "missing"})
	if err != nil || names[me.ID] != "ann" || len(names) != 1 {
		t.Errorf("Profiles() = %v, %v", names, err)
	}

	before, _ := annSess.Current()
	if _, err := ann.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	after, _ := annSess.Current()
	if after.RefreshToken == "" || after.RefreshToken == before.RefreshToken {
		t.Error("Refresh() did not rotate the refresh token")
	}

	annSess.SignOut()
	var apiErr *APIError
	if _, err := ann.Me(ctx); !errors.As(err, &apiErr) || !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Me() signed out error = %v, want 401", err)
	}
}

func TestClient_FeedRejectsNonMember(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	ann, _ := signedIn(t, base, "ann@example.com", "ann")
	bob, _ := signedIn(t, base, "bob@example.com", "bob")
	room, err := ann.CreateRoom(ctx, "private")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	_, err = bob.Open(ctx, roomsync.Filter{RoomID: room.ID})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Errorf("Open() error = %v, want 403", err)
	}
}

// 两个视图通过真实服务端同步：bob 发送，ann 通过 feed 收到。
func TestClient_RoomViewsStayInSync(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	ann, annSess := signedIn(t, base, "ann@example.com", "ann")
	bob, bobSess := signedIn(t, base, "bob@example.com", "bob")
	room, err := ann.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if _, _, err := bob.JoinRoom(ctx, room.Passkey); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if _, err := ann.InsertMessage(ctx, roomsync.NewMessage{RoomID: room.ID, Content: "welcome"}); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}

	deps := func(c *Client) roomsync.Deps {
		return roomsync.Deps{Store: c, Profiles: c, Feed: c, Completer: c}
	}
	annView := roomsync.NewView(room.ID, annSess, deps(ann), roomsync.WithAIReplies(false))
	defer annView.Close()
	bobView := roomsync.NewView(room.ID, bobSess, deps(bob))
	defer bobView.Close()
	for _, v := range []*roomsync.View{annView, bobView} {
		if err := v.Enter(ctx); err != nil {
			t.Fatalf("Enter() error = %v", err)
		}
		<-v.Loaded()
	}
	// 等待服务端完成订阅注册
	time.Sleep(100 * time.Millisecond)

	bobView.SetDraft("hi ann")
	if err := bobView.Send(ctx); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	wantContents := []string{"welcome", "hi ann", "you said: hi ann"}
	for name, v := range map[string]*roomsync.View{"ann": annView, "bob": bobView} {
		deadline := time.Now().Add(3 * time.Second)
		for len(v.Messages()) < len(wantContents) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		// 给迟到的重复事件留出时间
		time.Sleep(50 * time.Millisecond)
		msgs := v.Messages()
		if len(msgs) != len(wantContents) {
			t.Fatalf("%s view = %d entries %+v, want %d", name, len(msgs), msgs, len(wantContents))
		}
		for i, want := range wantContents {
			if msgs[i].Content != want || msgs[i].Provisional {
				t.Errorf("%s view [%d] = %+v, want confirmed %q", name, i, msgs[i], want)
			}
		}
		if msgs[0].Author != "ann" || msgs[1].Author != "bob" || msgs[2].Author != roomsync.AIAuthor {
			t.Errorf("%s view authors = %s, %s, %s", name, msgs[0].Author, msgs[1].Author, msgs[2].Author)
		}
	}
}

// expire 把 session 的 access token 换成已过期的 token，refresh token 不变。
func expire(t *testing.T, sess *session.Session) session.Identity {
	t.Helper()
	id, _ := sess.Current()
	tok, err := auth.GenerateAccessToken(id.UserID, "secret", -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	id.AccessToken = tok
	sess.SignIn(id)
	return id
}

func TestClient_RefreshesExpiredToken(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	ann, annSess := signedIn(t, base, "ann@example.com", "ann")
	room, err := ann.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	stale := expire(t, annSess)
	me, err := ann.Me(ctx)
	if err != nil || me.Username != "ann" {
		t.Fatalf("Me() with expired token = %+v, %v", me, err)
	}
	cur, _ := annSess.Current()
	if cur.AccessToken == stale.AccessToken || cur.RefreshToken == stale.RefreshToken {
		t.Error("Me() did not rotate the token pair")
	}

	expire(t, annSess)
	h, err := ann.Open(ctx, roomsync.Filter{RoomID: room.ID})
	if err != nil {
		t.Fatalf("Open() with expired token error = %v", err)
	}
	_ = h.Close()

	expire(t, annSess)
	view := roomsync.NewView(room.ID, annSess, roomsync.Deps{Store: ann, Profiles: ann, Feed: ann, Completer: ann}, roomsync.WithAIReplies(false))
	defer view.Close()
	if err := view.Enter(ctx); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	<-view.Loaded()
	expire(t, annSess)
	view.SetDraft("still here")
	if err := view.Send(ctx); err != nil {
		t.Fatalf("Send() with expired token error = %v", err)
	}
	msgs := view.Messages()
	if len(msgs) != 1 || msgs[0].Content != "still here" || msgs[0].Provisional {
		t.Errorf("Messages() = %+v, want one confirmed message", msgs)
	}

	// refresh token 失效时返回原始的 401，不重试
	id, _ := annSess.Current()
	id.AccessToken, id.RefreshToken = stale.AccessToken, "revoked"
	annSess.SignIn(id)
	if _, err := ann.Me(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Me() with revoked refresh token error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_DeleteAccount(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	ann, annSess := signedIn(t, base, "ann@example.com", "ann")

	if err := ann.DeleteAccount(ctx); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, ok := annSess.Current(); ok {
		t.Error("session still signed in after DeleteAccount()")
	}
	if _, err := ann.Login(ctx, "ann@example.com", "secret123"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Login() after delete error = %v, want ErrUnauthorized", err)
	}
}
