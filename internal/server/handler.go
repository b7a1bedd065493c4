package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/IqraKhanZ/ChatNest/internal/ai"
	"github.com/IqraKhanZ/ChatNest/internal/auth"
	"github.com/IqraKhanZ/ChatNest/internal/service"
	"github.com/IqraKhanZ/ChatNest/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Completer 生成 AI 回复。
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
	ai      Completer
	db      *gorm.DB
	secret  string
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, completer Completer, db *gorm.DB, secret string) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, ai: completer, db: db, secret: secret}
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if !strings.Contains(req.Email, "@") || len(req.Email) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if n := utf8.RuneCountInString(req.Username); n < 2 || n > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	profile, err := h.userSvc.Register(c.Request.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email taken"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Me(c *gin.Context) {
	// AuthMiddleware 已加载过 profile
	if u, ok := auth.GetUser(c); ok {
		c.JSON(http.StatusOK, u)
		return
	}
	p, err := h.userSvc.Profile(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		h.profileError(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteMe 删除当前账号，其消息保留但作者置空。
func (h *Handler) DeleteMe(c *gin.Context) {
	uid := auth.GetUserID(c)
	if err := h.userSvc.DeleteAccount(c.Request.Context(), uid); err != nil {
		h.profileError(c, err, "delete account")
		return
	}
	log.Info().Str("user_id", uid).Msg("account deleted")
	c.Status(http.StatusNoContent)
}

// Profiles 批量查询：?ids=a,b,c
func (h *Handler) Profiles(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
		return
	}
	out, err := h.userSvc.Profiles(c.Request.Context(), ids)
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("list profiles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list profiles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

func (h *Handler) Profile(c *gin.Context) {
	p, err := h.userSvc.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.profileError(c, err, "get profile")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) profileError(c *gin.Context, err error, op string) {
	if errors.Is(err, service.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	log.Error().Err(err).Str("op", op).Msg("profile")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(req.Title); n < 3 || n > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title must be 3 to 32 characters"})
		return
	}
	uid := auth.GetUserID(c)
	room, err := h.roomSvc.Create(c.Request.Context(), req.Title, uid)
	if err != nil {
		log.Error().Err(err).Str("creator_id", uid).Str("title", req.Title).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		Passkey string `json:"passkey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Passkey = strings.ToUpper(strings.TrimSpace(req.Passkey))
	if len(req.Passkey) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passkey must be at least 6 characters"})
		return
	}
	uid := auth.GetUserID(c)
	room, already, err := h.roomSvc.Join(c.Request.Context(), req.Passkey, uid)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no room matches that passkey"})
			return
		}
		log.Error().Err(err).Str("user_id", uid).Msg("join room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "already_member": already})
}

func (h *Handler) ListRooms(c *gin.Context) {
	uid := auth.GetUserID(c)
	rooms, err := h.roomSvc.ListForUser(c.Request.Context(), uid)
	if err != nil {
		log.Error().Err(err).Str("user_id", uid).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.roomSvc.Get(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		roomError(c, err, "get room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *Handler) Members(c *gin.Context) {
	members, err := h.roomSvc.Members(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		roomError(c, err, "list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func roomError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, service.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
	default:
		log.Error().Err(err).Str("room_id", c.Param("id")).Str("op", op).Msg("room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room lookup failed"})
	}
}

// ListMessages 返回房间最新的 limit 条消息（升序）。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.roomSvc.Get(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		roomError(c, err, "list messages")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.msgSvc.ListByRoom(c.Request.Context(), roomID, limit, c.Query("before_id"))
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req struct {
		Content   string `json:"content"`
		ClientTag string `json:"client_tag"`
		IsAI      bool   `json:"is_ai"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.ClientTag) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_tag"})
		return
	}
	roomID, uid := c.Param("id"), auth.GetUserID(c)
	if _, err := h.roomSvc.Get(c.Request.Context(), roomID, uid); err != nil {
		roomError(c, err, "create message")
		return
	}
	msg, err := h.msgSvc.Create(c.Request.Context(), service.NewMessage{
		RoomID: roomID, AuthorID: uid, Content: req.Content, ClientTag: req.ClientTag, IsAI: req.IsAI,
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Str("user_id", uid).Msg("create message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// AIReply 代理一次 chat completion 调用。
func (h *Handler) AIReply(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message"})
		return
	}
	if h.ai == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ai replies are not configured"})
		return
	}
	reply, err := h.ai.Complete(c.Request.Context(), req.Message)
	if err != nil {
		var apiErr *ai.APIError
		if errors.As(err, &apiErr) {
			log.Warn().Int("status", apiErr.Status).Msg("ai upstream")
			c.JSON(apiErr.Status, gin.H{"error": apiErr.Body})
			return
		}
		log.Error().Err(err).Msg("ai reply")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// FeedGate 校验 /ws 的 token 与房间成员身份。
func (h *Handler) FeedGate(ctx context.Context, token, roomID string) (ws.Subscriber, error) {
	user, err := auth.Authenticate(h.db.WithContext(ctx), h.secret, token)
	if err != nil {
		return ws.Subscriber{}, ws.ErrUnauthorized
	}
	if _, err := h.roomSvc.Get(ctx, roomID, user.ID); err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			return ws.Subscriber{}, ws.ErrRoomNotFound
		case errors.Is(err, service.ErrNotMember):
			return ws.Subscriber{}, ws.ErrForbidden
		}
		return ws.Subscriber{}, err
	}
	return ws.Subscriber{UserID: user.ID, Username: user.Username}, nil
}
