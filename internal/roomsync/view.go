package roomsync

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/session"

	"github.com/rs/zerolog/log"
)

const DefaultHistoryLimit = 50

// Deps 是 View 的协作方。Completer 为 nil 时不产生 AI 回复；Authors 可在多个视图间共享。
type Deps struct {
	Store     Store
	Profiles  Profiles
	Feed      Feed
	Completer Completer
	Authors   *Authors
}

type Option func(*View)

func WithHistoryLimit(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.historyLimit = n
		}
	}
}

// WithAIReplies 控制发送成功后是否请求 AI 回复，默认开启。
func WithAIReplies(on bool) Option { return func(v *View) { v.aiReplies = on } }

func WithClock(now func() time.Time) Option { return func(v *View) { v.now = now } }

// View 持有一个房间的消息列表。列表、草稿和 sending 标志只在视图自己的
// goroutine 上修改；耗时操作（加载、查询作者、写入、AI 调用）在别处执行，
// 再把结果投递回来。Close 之后投递的结果被丢弃。
type View struct {
	roomID       string
	sess         *session.Session
	store        Store
	feed         Feed
	ai           Completer
	authors      *Authors
	historyLimit int
	aiReplies    bool
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	ops     chan func()
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	entered atomic.Bool

	closeOnce  sync.Once
	loadedOnce sync.Once
	wg         sync.WaitGroup

	notices chan Notice
	changes chan struct{}
	loaded  chan struct{}

	// mu 保护下面与 Close 竞争的生命周期字段
	mu     sync.Mutex
	handle Handle
	unsub  func()

	// 仅由循环 goroutine 访问
	list      []Message
	draft     string
	sending   bool
	signedOut bool
}

// NewView 启动视图循环，调用方必须 Close。
func NewView(roomID string, sess *session.Session, deps Deps, opts ...Option) *View {
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		roomID:       roomID,
		sess:         sess,
		store:        deps.Store,
		feed:         deps.Feed,
		ai:           deps.Completer,
		authors:      deps.Authors,
		historyLimit: DefaultHistoryLimit,
		aiReplies:    true,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		ops:          make(chan func()),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		notices:      make(chan Notice, 32),
		changes:      make(chan struct{}, 1),
		loaded:       make(chan struct{}),
	}
	if v.authors == nil {
		v.authors = NewAuthors(deps.Profiles)
	}
	for _, opt := range opts {
		opt(v)
	}
	go v.run()
	return v
}

func (v *View) run() {
	defer close(v.stopped)
	for {
		select {
		case fn := <-v.ops:
			fn()
		case <-v.done:
			return
		}
	}
}

// post 把一次修改交给循环；视图关闭后丢弃。
func (v *View) post(fn func()) {
	select {
	case v.ops <- func() {
		if v.closed.Load() {
			return
		}
		fn()
	}:
	case <-v.stopped:
	}
}

// query 在循环上执行 fn 并等待完成。循环已停止时返回 false，此时状态不再变化，可直接读取。
func (v *View) query(fn func()) bool {
	ran := make(chan struct{})
	select {
	case v.ops <- func() { fn(); close(ran) }:
		<-ran
		return true
	case <-v.stopped:
		return false
	}
}

// spawn 在受跟踪的 goroutine 上执行 fn，视图关闭中则不执行。
func (v *View) spawn(fn func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return false
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn()
	}()
	return true
}

func (v *View) RoomID() string { return v.roomID }

// Notices 推送用户可见的失败，无人读取时丢弃。
func (v *View) Notices() <-chan Notice { return v.notices }

// Changes 在列表变化后触发，连续变化合并为一个信号。
func (v *View) Changes() <-chan struct{} { return v.changes }

// Loaded 在历史加载结束（无论成败）后关闭。
func (v *View) Loaded() <-chan struct{} { return v.loaded }

func (v *View) markLoaded() { v.loadedOnce.Do(func() { close(v.loaded) }) }

func (v *View) notify(n Notice) {
	log.Debug().Str("room_id", v.roomID).Str("kind", n.Kind.String()).Err(n.Err).Msg(n.Title)
	select {
	case v.notices <- n:
	default:
		log.Warn().Str("room_id", v.roomID).Str("notice", n.String()).Msg("notice dropped")
	}
}

func (v *View) changed() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// Messages 返回当前列表的副本。
func (v *View) Messages() []Message {
	var out []Message
	read := func() { out = append([]Message(nil), v.list...) }
	if !v.query(read) {
		read()
	}
	return out
}

func (v *View) Draft() string {
	var d string
	read := func() { d = v.draft }
	if !v.query(read) {
		read()
	}
	return d
}

// Sending 表示是否有发送（含 AI 回复）正在进行。
func (v *View) Sending() bool {
	var s bool
	read := func() { s = v.sending }
	if !v.query(read) {
		read()
	}
	return s
}

func (v *View) SetDraft(text string) {
	v.query(func() { v.draft = text })
}

// Enter 打开实时 feed 并开始加载历史。feed 打不开时只发出 Notice，历史与发送照常可用。
func (v *View) Enter(ctx context.Context) error {
	if v.closed.Load() {
		return ErrClosed
	}
	if !v.entered.CompareAndSwap(false, true) {
		return ErrEntered
	}
	if v.roomID == "" {
		v.notify(Notice{Kind: KindValidation, Title: "no room selected", Err: ErrNoRoom})
		v.markLoaded()
		return ErrNoRoom
	}
	if _, ok := v.sess.Current(); !ok {
		v.notify(Notice{Kind: KindAuthorization, Title: "sign in to chat", Err: ErrNoSession})
		v.markLoaded()
		return ErrNoSession
	}

	unsub := v.sess.Subscribe(v.onSession)
	v.mu.Lock()
	if v.closed.Load() {
		v.mu.Unlock()
		unsub()
		return ErrClosed
	}
	v.unsub = unsub
	v.mu.Unlock()

	h, err := v.feed.Open(ctx, Filter{RoomID: v.roomID})
	if err != nil {
		v.notify(Notice{Kind: kindOf(err), Title: "live updates unavailable", Err: err})
	} else if !v.attach(h) {
		_ = h.Close()
		return ErrClosed
	}

	if !v.spawn(v.loadHistory) {
		return ErrClosed
	}
	return nil
}

func (v *View) attach(h Handle) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return false
	}
	v.handle = h
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.pump(h)
	}()
	return true
}

// detach 取走当前打开的 handle（如有）。
func (v *View) detach() Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	h := v.handle
	v.handle = nil
	return h
}

// pump 逐条解析作者，保证事件按到达顺序进入列表。
func (v *View) pump(h Handle) {
	for rec := range h.Events() {
		if rec.RoomID != "" && rec.RoomID != v.roomID {
			continue
		}
		author := AIAuthor
		if !rec.IsAI {
			author = v.authors.Resolve(v.ctx, rec.AuthorID)
		}
		m := fromRecord(rec, author)
		v.post(func() { v.ingest(m) })
	}

	v.mu.Lock()
	own := v.handle == h
	if own {
		v.handle = nil
	}
	v.mu.Unlock()
	if own && !v.closed.Load() {
		_ = h.Close()
		v.notify(Notice{Kind: KindBackend, Title: "live updates disconnected"})
	}
}

func (v *View) onSession(st session.State) {
	if st.SignedIn {
		return
	}
	if h := v.detach(); h != nil {
		_ = h.Close()
	}
	v.post(func() {
		v.signedOut = true
		v.notify(Notice{Kind: KindAuthorization, Title: "signed out", Err: ErrNoSession})
	})
}

func (v *View) loadHistory() {
	recs, err := v.store.RecentMessages(v.ctx, v.roomID, v.historyLimit)
	if err != nil {
		v.post(func() {
			v.notify(Notice{Kind: kindOf(err), Title: "could not load messages", Err: err})
			v.markLoaded()
			v.changed()
		})
		return
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if !r.IsAI && r.AuthorID != "" {
			ids = append(ids, r.AuthorID)
		}
	}
	names := v.authors.ResolveMany(v.ctx, ids)

	hist := make([]Message, 0, len(recs))
	for _, r := range recs {
		name := Anonymous
		if n, ok := names[r.AuthorID]; ok {
			name = n
		}
		hist = append(hist, fromRecord(r, name))
	}
	v.post(func() {
		v.mergeHistory(hist)
		v.markLoaded()
	})
}

// mergeHistory 先放历史，再接上加载期间进入列表的条目。
// 已被历史行确认的临时条目由该行取代。
func (v *View) mergeHistory(hist []Message) {
	seen := make(map[string]bool, len(hist))
	confirmed := make(map[string]bool)
	merged := make([]Message, 0, len(hist)+len(v.list))
	for _, m := range hist {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.ClientTag != "" {
			confirmed[m.ClientTag] = true
		}
		merged = append(merged, m)
	}
	for _, m := range v.list {
		if seen[m.ID] || (m.Provisional && confirmed[m.ID]) {
			continue
		}
		merged = append(merged, m)
	}
	v.list = merged
	v.changed()
}

// ingest 应用一条已确认记录：id 已存在时不做处理；能确认某个临时条目时原位替换；否则追加。
func (v *View) ingest(m Message) {
	if v.indexOf(m.ID) >= 0 {
		return
	}
	if m.ClientTag != "" {
		if i := v.indexOf(m.ClientTag); i >= 0 && v.list[i].Provisional {
			v.list[i] = m
			v.changed()
			return
		}
	}
	v.list = append(v.list, m)
	v.changed()
}

func (v *View) indexOf(id string) int {
	for i := len(v.list) - 1; i >= 0; i-- {
		if v.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *View) remove(id string) {
	if i := v.indexOf(id); i >= 0 {
		v.list = append(v.list[:i], v.list[i+1:]...)
		v.changed()
	}
}

// Close 拆除视图：关闭 feed、取消后台工作，此后列表不再变化。可重复调用。
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed.Store(true)
		h, unsub := v.handle, v.unsub
		v.handle, v.unsub = nil, nil
		v.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		v.cancel()
		if h != nil {
			err = h.Close()
		}
		close(v.done)
		v.wg.Wait()
		<-v.stopped
		v.markLoaded()
	})
	return err
}
