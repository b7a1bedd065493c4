package roomsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/session"
)

type fakeStore struct {
	mu       sync.Mutex
	history  []Record
	histErr  error
	histGate chan struct{}
	inserted []NewMessage
	// insertErr 按调用顺序取值，超出部分视为成功
	insertErr  []error
	insertGate chan struct{}
	n          int
}

func (s *fakeStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]Record, error) {
	if s.histGate != nil {
		select {
		case <-s.histGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histErr != nil {
		return nil, s.histErr
	}
	out := append([]Record(nil), s.history...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, m NewMessage) (Record, error) {
	if s.insertGate != nil && !m.IsAI {
		<-s.insertGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.inserted)
	s.inserted = append(s.inserted, m)
	if call < len(s.insertErr) && s.insertErr[call] != nil {
		return Record{}, s.insertErr[call]
	}
	s.n++
	return Record{
		ID:        fmt.Sprintf("srv-%03d", s.n),
		ClientTag: m.ClientTag,
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		IsAI:      m.IsAI,
		CreatedAt: time.Now(),
	}, nil
}

func (s *fakeStore) Inserted() []NewMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NewMessage(nil), s.inserted...)
}

type fakeProfiles struct {
	mu       sync.Mutex
	names    map[string]string
	batchErr error
	batches  [][]string
	singles  []string
}

func (p *fakeProfiles) Profiles(_ context.Context, ids []string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]string(nil), ids...))
	if p.batchErr != nil {
		return nil, p.batchErr
	}
	out := make(map[string]string)
	for _, id := range ids {
		if n, ok := p.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (p *fakeProfiles) Profile(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.singles = append(p.singles, id)
	if n, ok := p.names[id]; ok {
		return n, nil
	}
	return "", ErrNotFound
}

func (p *fakeProfiles) counts() (batches, singles int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches), len(p.singles)
}

type fakeHandle struct {
	events chan Record
	once   sync.Once
	closed chan struct{}
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan Record, 64), closed: make(chan struct{})}
}

func (h *fakeHandle) Events() <-chan Record { return h.events }

func (h *fakeHandle) Close() error {
	h.once.Do(func() {
		close(h.closed)
		close(h.events)
	})
	return nil
}

func (h *fakeHandle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	err     error
	handles []*fakeHandle
	filters []Filter
}

func (f *fakeFeed) Open(_ context.Context, filter Filter) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	h := newFakeHandle()
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeFeed) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

type fakeCompleter struct {
	reply string
	err   error
	gate  chan struct{}
	mu    sync.Mutex
	got   []string
}

func (c *fakeCompleter) Complete(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	c.got = append(c.got, message)
	c.mu.Unlock()
	if c.gate != nil {
		<-c.gate
	}
	return c.reply, c.err
}

type fixture struct {
	store    *fakeStore
	profiles *fakeProfiles
	feed     *fakeFeed
	ai       *fakeCompleter
	sess     *session.Session
}

func (f *fixture) sessIdentity() session.Identity {
	return session.Identity{UserID: "u-me", Username: "me", AccessToken: "tok"}
}

func newFixture() *fixture {
	sess := session.New()
	sess.SignIn(session.Identity{UserID: "u-me", Username: "me", AccessToken: "tok"})
	return &fixture{
		store:    &fakeStore{},
		profiles: &fakeProfiles{names: map[string]string{"u-me": "me", "u-ann": "ann", "u-bob": "bob"}},
		feed:     &fakeFeed{},
		ai:       &fakeCompleter{reply: "beep boop"},
		sess:     sess,
	}
}

func (f *fixture) deps() Deps {
	return Deps{Store: f.store, Profiles: f.profiles, Feed: f.feed, Completer: f.ai}
}

// open 创建并进入一个视图，测试结束时自动关闭。
func (f *fixture) open(t *testing.T, opts ...Option) *View {
	t.Helper()
	v := NewView("room-1", f.sess, f.deps(), opts...)
	t.Cleanup(func() { _ = v.Close() })
	if err := v.Enter(context.Background()); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	return v
}

func waitLoaded(t *testing.T, v *View) {
	t.Helper()
	select {
	case <-v.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("history did not load")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitNotice(t *testing.T, v *View) Notice {
	t.Helper()
	select {
	case n := <-v.Notices():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notice")
	}
	return Notice{}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errBackend = errors.New("backend unavailable")
