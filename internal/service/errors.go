package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotMember          = errors.New("not a room member")
	ErrEmptyMessage       = errors.New("empty message")
)
