// Package roomsync 维护单个房间的消息列表：把历史消息、实时插入事件和
// 本地发送的消息合并成一个有序且服务端 id 不重复的列表。
package roomsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AIAuthor 是所有 AI 消息的显示名。
	AIAuthor = "GPT-4"
	// AIErrorAuthor 标记 AI 回复失败时插入的本地条目。
	AIErrorAuthor = "GPT-4 (error)"
	// Anonymous 用于无法解析的作者。
	Anonymous = "Anonymous"

	provisionalPrefix = "temp-"
	typingSuffix      = "-ai-typing"
	errorSuffix       = "-ai-error"

	typingText  = "AI is typing..."
	aiErrorText = "There was a problem getting a reply."
)

type Origin int

const (
	Human Origin = iota
	AI
)

func (o Origin) String() string {
	if o == AI {
		return "ai"
	}
	return "human"
}

// Message 是可见列表中的一条。
type Message struct {
	ID        string
	AuthorID  string
	Author    string
	Content   string
	Origin    Origin
	CreatedAt time.Time
	// ClientTag 是该记录所确认的临时 id（可为空）。
	ClientTag string
	// Provisional 表示尚未被服务端确认的本地发送。
	Provisional bool
	// Transient 条目（typing 与 AI 错误占位）从不落库。
	Transient bool
}

// Record 是 Store 与 Feed 返回的已持久化消息行。
// AI 消息和已注销账号的消息 AuthorID 为空。
type Record struct {
	ID        string
	ClientTag string
	RoomID    string
	AuthorID  string
	Content   string
	IsAI      bool
	CreatedAt time.Time
}

// NewMessage 是一次插入请求。
type NewMessage struct {
	RoomID    string
	AuthorID  string
	Content   string
	ClientTag string
	IsAI      bool
}

func fromRecord(r Record, author string) Message {
	m := Message{
		ID:        r.ID,
		AuthorID:  r.AuthorID,
		Author:    author,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		ClientTag: r.ClientTag,
	}
	if r.IsAI {
		m.Origin = AI
		m.Author = AIAuthor
	}
	return m
}

// IsProvisionalID 判断 id 是否为本地生成的临时 id。
func IsProvisionalID(id string) bool { return strings.HasPrefix(id, provisionalPrefix) }

func provisionalID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", provisionalPrefix, now.UnixMilli(), uuid.NewString()[:8])
}

func typingID(now time.Time) string { return fmt.Sprintf("%d%s", now.UnixMilli(), typingSuffix) }

func errorID(now time.Time) string { return fmt.Sprintf("%d%s", now.UnixMilli(), errorSuffix) }
