package roomsync

import (
	"context"
)

// Store 负责写入与查询消息行。
type Store interface {
	// RecentMessages 返回房间最新的至多 limit 条，按时间升序。
	RecentMessages(ctx context.Context, roomID string, limit int) ([]Record, error)
	InsertMessage(ctx context.Context, m NewMessage) (Record, error)
}

// Profiles 查询显示名。批量查询结果中不含未知 id；单个查询对未知 id 返回 ErrNotFound。
type Profiles interface {
	Profiles(ctx context.Context, ids []string) (map[string]string, error)
	Profile(ctx context.Context, id string) (string, error)
}

// Filter 选择 feed 推送的行：room id 匹配的插入事件。
type Filter struct {
	RoomID string
}

// Feed 打开实时插入事件流。
type Feed interface {
	Open(ctx context.Context, f Filter) (Handle, error)
}

// Handle 是一个已打开的实时流。Close 返回后或流自行结束时 Events 被关闭。
type Handle interface {
	Events() <-chan Record
	Close() error
}

// Completer 为一条消息生成 AI 回复。
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}
