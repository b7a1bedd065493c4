package service

import (
	"context"
	"errors"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/auth"
	"github.com/IqraKhanZ/ChatNest/internal/config"
	"github.com/IqraKhanZ/ChatNest/internal/models"

	"gorm.io/gorm"
)

// UserService 封装账号、登录与 profile 查询。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// ProfileDTO 是对外输出的 profile，字段与 profiles 表一致。
type ProfileDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func toProfileDTO(p models.Profile) ProfileDTO {
	return ProfileDTO{ID: p.ID, Username: p.Username, Email: p.Email}
}

// Register 注册新用户。邮箱唯一。
func (s *UserService) Register(ctx context.Context, email, username, password string) (*ProfileDTO, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.Profile{Email: email, Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	out := toProfileDTO(user)
	return &out, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         ProfileDTO `json:"user"`
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user models.Profile
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := auth.SaveRefreshToken(s.db.WithContext(ctx), user.ID, rt, s.refreshExpiry()); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: toProfileDTO(user)}, nil
}

func (s *UserService) refreshExpiry() time.Time {
	return time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, s.refreshExpiry()); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Profile 按 id 查询单个 profile。
func (s *UserService) Profile(ctx context.Context, id string) (*ProfileDTO, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	out := toProfileDTO(p)
	return &out, nil
}

// Profiles 批量查询 profile，一次查询覆盖去重后的全部 id，未知 id 被忽略。
func (s *UserService) Profiles(ctx context.Context, ids []string) ([]ProfileDTO, error) {
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	out := make([]ProfileDTO, 0, len(uniq))
	if len(uniq) == 0 {
		return out, nil
	}
	var users []models.Profile
	if err := s.db.WithContext(ctx).Select("id", "username", "email").Where("id IN ?", uniq).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out = append(out, toProfileDTO(u))
	}
	return out, nil
}

// DeleteAccount 删除账号：移除成员关系与 refresh token，保留其消息但清空作者。
func (s *UserService) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Message{}).Where("author_id = ?", id).Update("author_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Profile{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrProfileNotFound
		}
		return nil
	})
}
