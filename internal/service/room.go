package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/IqraKhanZ/ChatNest/internal/models"

	"gorm.io/gorm"
)

const (
	passkeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passkeyLength   = 8
)

// OnlineCounter 返回房间当前在线的订阅者数量。
type OnlineCounter interface {
	Online(roomID string) int
}

// RoomService 封装房间与成员关系。
type RoomService struct {
	db     *gorm.DB
	online OnlineCounter
}

func NewRoomService(db *gorm.DB, online OnlineCounter) *RoomService {
	return &RoomService{db: db, online: online}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Passkey string `json:"passkey"`
	Members int64  `json:"members"`
	YouAre  string `json:"you_are"`
	Online  int    `json:"online"`
}

// GeneratePasskey 生成一个由易辨认字符组成的房间口令。
func GeneratePasskey(n int) (string, error) {
	max := big.NewInt(int64(len(passkeyAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = passkeyAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// Create 创建房间并把创建者加入成员。
func (s *RoomService) Create(ctx context.Context, title, creatorID string) (*RoomDTO, error) {
	room := models.Room{Title: title, CreatorID: creatorID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for {
			pk, err := GeneratePasskey(passkeyLength)
			if err != nil {
				return err
			}
			var n int64
			if err := tx.Model(&models.Room{}).Where("passkey = ?", pk).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				room.Passkey = pk
				break
			}
		}
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&models.Membership{RoomID: room.ID, UserID: creatorID}).Error
	})
	if err != nil {
		return nil, err
	}
	return &RoomDTO{ID: room.ID, Title: room.Title, Passkey: room.Passkey, Members: 1, YouAre: "Owner"}, nil
}

// Join 通过口令加入房间。已是成员时返回 alreadyMember=true 且不报错。
func (s *RoomService) Join(ctx context.Context, passkey, userID string) (room *models.Room, alreadyMember bool, err error) {
	var r models.Room
	if err := s.db.WithContext(ctx).Where("passkey = ?", passkey).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrRoomNotFound
		}
		return nil, false, err
	}
	ok, err := s.IsMember(ctx, r.ID, userID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return &r, true, nil
	}
	if err := s.db.WithContext(ctx).Create(&models.Membership{RoomID: r.ID, UserID: userID}).Error; err != nil {
		return nil, false, err
	}
	return &r, false, nil
}

// IsMember 检查用户是否属于房间。
func (s *RoomService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&n).Error
	return n > 0, err
}

// Get 返回房间信息，仅成员可见。
func (s *RoomService) Get(ctx context.Context, roomID, userID string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	ok, err := s.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return &room, nil
}

// ListForUser 返回用户所在的房间，附带成员数、身份与在线人数。
func (s *RoomService) ListForUser(ctx context.Context, userID string) ([]RoomDTO, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.room_id = rooms.id").
		Where("memberships.user_id = ?", userID).
		Order("rooms.created_at desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	type countRow struct {
		RoomID string
		N      int64
	}
	counts := make(map[string]int64, len(rooms))
	if len(rooms) > 0 {
		ids := make([]string, 0, len(rooms))
		for _, r := range rooms {
			ids = append(ids, r.ID)
		}
		var rows []countRow
		if err := s.db.WithContext(ctx).Model(&models.Membership{}).
			Select("room_id, count(*) as n").
			Where("room_id IN ?", ids).
			Group("room_id").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			counts[r.RoomID] = r.N
		}
	}

	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		role := "Member"
		if r.CreatorID == userID {
			role = "Owner"
		}
		dto := RoomDTO{ID: r.ID, Title: r.Title, Passkey: r.Passkey, Members: counts[r.ID], YouAre: role}
		if s.online != nil {
			dto.Online = s.online.Online(r.ID)
		}
		out = append(out, dto)
	}
	return out, nil
}

// Members 返回房间成员的 profile 列表。
func (s *RoomService) Members(ctx context.Context, roomID, userID string) ([]ProfileDTO, error) {
	if _, err := s.Get(ctx, roomID, userID); err != nil {
		return nil, err
	}
	var users []models.Profile
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.user_id = profiles.id").
		Where("memberships.room_id = ?", roomID).
		Order("memberships.created_at asc").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]ProfileDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toProfileDTO(u))
	}
	return out, nil
}
