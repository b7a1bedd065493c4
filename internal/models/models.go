package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Profile 是账号与对外展示资料的合体，对应 profiles 表。
type Profile struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username     string    `gorm:"size:64;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

func (p *Profile) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type Room struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:64;not null" json:"title"`
	Passkey   string    `gorm:"uniqueIndex;size:16;not null" json:"passkey"`
	CreatorID string    `gorm:"index;size:36;not null" json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (r *Room) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type Membership struct {
	RoomID    string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

// Message 同时是持久化行和实时事件的载荷。ID 为 ULID，按时间有序。
type Message struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	RoomID    string    `gorm:"index:idx_msg_room_created,priority:1;size:36;not null" json:"room_id"`
	AuthorID  *string   `gorm:"index;size:36" json:"author_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	IsAI      bool      `gorm:"not null;default:false" json:"is_ai"`
	ClientTag string    `gorm:"size:64" json:"client_tag,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2" json:"created_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	return nil
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index;size:36;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Live event types pushed over the room feed.
const (
	EventMessageInserted = "message.inserted"
	EventJoin            = "join"
	EventLeave           = "leave"
)

// FeedEvent 是 /ws 推送给订阅者的信封。
type FeedEvent struct {
	Type     string   `json:"type"`
	RoomID   string   `json:"room_id"`
	Message  *Message `json:"message,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Online   int      `json:"online,omitempty"`
}
