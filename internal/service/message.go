package service

import (
	"context"
	"strings"

	"github.com/IqraKhanZ/ChatNest/internal/metrics"
	"github.com/IqraKhanZ/ChatNest/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Publisher 把已提交的消息行推送给房间的实时订阅者。
type Publisher interface {
	PublishMessage(ctx context.Context, msg models.Message) error
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db  *gorm.DB
	pub Publisher
}

func NewMessageService(db *gorm.DB, pub Publisher) *MessageService {
	return &MessageService{db: db, pub: pub}
}

// NewMessage 是一次插入请求。AI 消息没有作者。
type NewMessage struct {
	RoomID    string
	AuthorID  string
	Content   string
	ClientTag string
	IsAI      bool
}

// ListByRoom 分页查询指定房间最新的 limit 条消息，按时间升序返回。
func (s *MessageService) ListByRoom(ctx context.Context, roomID string, limit int, beforeID string) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	if err := q.Order("created_at desc").Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Create 持久化一条消息，提交后发布 message.inserted 事件。
// 发布失败只记日志：行已经落库，历史加载仍能看到它。
func (s *MessageService) Create(ctx context.Context, in NewMessage) (*models.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyMessage
	}
	msg := models.Message{RoomID: in.RoomID, Content: in.Content, IsAI: in.IsAI, ClientTag: in.ClientTag}
	if !in.IsAI && in.AuthorID != "" {
		author := in.AuthorID
		msg.AuthorID = &author
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}

	origin := "human"
	if msg.IsAI {
		origin = "ai"
	}
	metrics.MessagesTotal.WithLabelValues(origin).Inc()

	if s.pub != nil {
		if err := s.pub.PublishMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("room_id", msg.RoomID).Str("message_id", msg.ID).Msg("publish message")
		}
	}
	return &msg, nil
}
