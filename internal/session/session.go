// Package session 持有客户端当前的登录身份，并向订阅者广播登录与登出。
package session

import (
	"sync"
)

// Identity 是一次登录得到的身份。
type Identity struct {
	UserID       string `mapstructure:"user_id" json:"user_id"`
	Username     string `mapstructure:"username" json:"username"`
	Email        string `mapstructure:"email" json:"email"`
	AccessToken  string `mapstructure:"access_token" json:"access_token"`
	RefreshToken string `mapstructure:"refresh_token" json:"refresh_token"`
}

// State 是一次变更后的快照。SignedIn 为 false 时 Identity 为零值。
type State struct {
	Identity Identity
	SignedIn bool
}

// Session 由调用方创建并显式传给每个房间视图，不存在全局实例。
type Session struct {
	mu   sync.RWMutex
	cur  Identity
	ok   bool
	next int
	subs map[int]func(State)
}

func New() *Session { return &Session{subs: make(map[int]func(State))} }

// SignIn 替换当前身份并通知订阅者。
func (s *Session) SignIn(id Identity) {
	s.mu.Lock()
	s.cur, s.ok = id, true
	fns := s.snapshot()
	s.mu.Unlock()
	notify(fns, State{Identity: id, SignedIn: true})
}

// SignOut 清空身份。未登录时为空操作。
func (s *Session) SignOut() {
	s.mu.Lock()
	if !s.ok {
		s.mu.Unlock()
		return
	}
	s.cur, s.ok = Identity{}, false
	fns := s.snapshot()
	s.mu.Unlock()
	notify(fns, State{})
}

// Current 返回当前身份；未登录时 ok 为 false。
func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, s.ok
}

// Token 返回当前 access token，未登录时为空串。
func (s *Session) Token() string {
	id, _ := s.Current()
	return id.AccessToken
}

// Subscribe 注册状态变更回调，返回的函数用于取消订阅，可重复调用。
// 回调在调用 SignIn/SignOut 的 goroutine 上同步执行，不得阻塞。
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) snapshot() []func(State) {
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(State), st State) {
	for _, fn := range fns {
		fn(st)
	}
}
