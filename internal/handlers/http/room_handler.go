package http

import (
	"fmt"
	"net/http"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	rooms     *services.RoomService
	admission *services.AdmissionService
}

func NewRoomHandler(rooms *services.RoomService, admission *services.AdmissionService) *RoomHandler {
	return &RoomHandler{
		rooms:     rooms,
		admission: admission,
	}
}

// SetupRoutes expects router to already carry the auth middleware.
func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	rooms := router.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.POST("/join", h.JoinRoom)
		rooms.GET("/:id", h.GetRoom)
		rooms.GET("/:id/requests", h.PendingRequests)
		rooms.PATCH("/:id/chat", h.SetChat)
		rooms.PATCH("/:id/password", h.SetPassword)
		rooms.POST("/:id/invites", h.Invite)
		rooms.POST("/:id/leave", h.Leave)
		rooms.POST("/:id/kick", h.Kick)
		rooms.POST("/:id/decisions", h.Decide)
	}
}

type createRoomRequest struct {
	Password string `json:"password"`
}

type joinRoomRequest struct {
	RoomID     string `json:"room_id"`
	InviteLink string `json:"invite_link"`
	Password   string `json:"password"`
}

type chatRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type passwordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type targetRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type decisionRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Approve *bool  `json:"approve" binding:"required"`
}

func identity(c *gin.Context) (domain.Identity, bool) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authorization required"))
	}
	return id, ok
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		c.Error(fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return "", false
	}
	return domain.RoomID(id), true
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return false
	}
	return true
}

func targetUser(c *gin.Context, raw string) (domain.UserID, bool) {
	if err := validation.ValidateUserID(raw); err != nil {
		c.Error(fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return "", false
	}
	return domain.UserID(raw), true
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	var req createRoomRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), caller, services.CreateRoomOptions{Password: req.Password})
	if err != nil {
		c.Error(err)
		return
	}
	view, err := h.rooms.GetRoom(c.Request.Context(), caller.UserID, room.ID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	var req joinRoomRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.admission.RequestJoin(c.Request.Context(), caller, services.JoinRequest{
		RoomID:     domain.RoomID(req.RoomID),
		InviteLink: req.InviteLink,
		Password:   req.Password,
	})
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusOK
	if result.Status == services.AdmissionPending {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"room_id": result.RoomID, "status": result.Status})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	view, err := h.rooms.GetRoom(c.Request.Context(), caller.UserID, roomID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RoomHandler) PendingRequests(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	pending, err := h.admission.Pending(c.Request.Context(), caller.UserID, roomID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "requests": pending})
}

func (h *RoomHandler) SetChat(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req chatRequest
	if !bind(c, &req) {
		return
	}

	room, err := h.rooms.SetChatEnabled(c.Request.Context(), caller.UserID, roomID, *req.Enabled)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "is_chat_enabled": room.IsChatEnabled})
}

func (h *RoomHandler) SetPassword(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req passwordRequest
	if !bind(c, &req) {
		return
	}

	if err := validation.ValidateRoomPassword(req.Password); err != nil {
		c.Error(fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if err := validation.ValidatePasswordConfirmation(req.Password, req.ConfirmPassword); err != nil {
		c.Error(fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	if err := h.rooms.SetPassword(c.Request.Context(), caller.UserID, roomID, req.Password); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Invite(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req targetRequest
	if !bind(c, &req) {
		return
	}
	invitee, ok := targetUser(c, req.UserID)
	if !ok {
		return
	}

	link, err := h.rooms.Invite(c.Request.Context(), caller.UserID, roomID, invitee)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invite_link": link})
}

func (h *RoomHandler) Leave(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if err := h.rooms.Leave(c.Request.Context(), caller.UserID, roomID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Kick(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req targetRequest
	if !bind(c, &req) {
		return
	}
	target, ok := targetUser(c, req.UserID)
	if !ok {
		return
	}

	if err := h.rooms.Kick(c.Request.Context(), caller.UserID, target, roomID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Decide(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req decisionRequest
	if !bind(c, &req) {
		return
	}
	requester, ok := targetUser(c, req.UserID)
	if !ok {
		return
	}

	if err := h.admission.Decide(c.Request.Context(), caller.UserID, roomID, requester, *req.Approve); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
