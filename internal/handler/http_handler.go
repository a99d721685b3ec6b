package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zaliubovskiy/chatrelay/internal/auth"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/service"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/response"
)

// HTTPHandler serves the REST chat surface.
type HTTPHandler struct {
	service   service.ChatService
	validator auth.Validator
}

// NewHTTPHandler creates the REST handler.
func NewHTTPHandler(svc service.ChatService, validator auth.Validator) *HTTPHandler {
	return &HTTPHandler{
		service:   svc,
		validator: validator,
	}
}

// RegisterRoutes mounts the REST endpoints under /api/v1.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(h.validator))
	{
		api.GET("/chats", h.ListChats)
		api.GET("/chats/archived", h.ListArchivedChats)
		api.POST("/chats", h.CreateChat)
		api.PATCH("/chats/:id/viewed", h.MarkViewed)
		api.DELETE("/chats/:id", h.DeleteChat)
		api.GET("/chats/:id/contact", h.GetContact)
		api.GET("/chats/:id/attachments", h.ListAttachments)
	}
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// ListChats returns the caller's active chats, most recently active
// first, each with its unread count and last message.
func (h *HTTPHandler) ListChats(c *gin.Context) {
	h.listChats(c, false)
}

// ListArchivedChats returns the caller's soft-deleted chats.
func (h *HTTPHandler) ListArchivedChats(c *gin.Context) {
	h.listChats(c, true)
}

func (h *HTTPHandler) listChats(c *gin.Context, archived bool) {
	user, ok := currentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	entries, err := h.service.ListChats(c.Request.Context(), user.ID, archived)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to list chats")
		response.InternalError(c, "failed to list chats")
		return
	}
	response.Success(c, entries)
}

type createChatRequest struct {
	ContactEmail string `json:"contact_email" binding:"required,email"`
}

// CreateChat opens a chat between the caller and the named contact.
// An existing chat with the same pair is returned instead of a
// duplicate.
func (h *HTTPHandler) CreateChat(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "contact_email is required")
		return
	}

	chat, err := h.service.CreateChat(c.Request.Context(), user.ID, req.ContactEmail)
	if err != nil {
		if errors.Is(err, service.ErrContactNotFound) {
			response.NotFound(c, "contact not found")
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to create chat")
		response.InternalError(c, "failed to create chat")
		return
	}
	response.Created(c, chat)
}

// MarkViewed marks every message in the chat not authored by the
// caller as viewed.
func (h *HTTPHandler) MarkViewed(c *gin.Context) {
	user, chatID, ok := h.chatRequest(c)
	if !ok {
		return
	}

	if err := h.service.MarkViewed(c.Request.Context(), chatID, user.ID); err != nil {
		h.writeChatError(c, err, "failed to mark chat as viewed")
		return
	}
	response.Success(c, gin.H{"viewed": true})
}

// DeleteChat soft-deletes the chat. History stays readable; new
// sessions are refused.
func (h *HTTPHandler) DeleteChat(c *gin.Context) {
	user, chatID, ok := h.chatRequest(c)
	if !ok {
		return
	}

	if err := h.service.DeleteChat(c.Request.Context(), chatID, user.ID); err != nil {
		h.writeChatError(c, err, "failed to delete chat")
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// GetContact returns the other participant of the chat.
func (h *HTTPHandler) GetContact(c *gin.Context) {
	user, chatID, ok := h.chatRequest(c)
	if !ok {
		return
	}

	contact, err := h.service.GetContact(c.Request.Context(), chatID, user.ID)
	if err != nil {
		h.writeChatError(c, err, "failed to resolve contact")
		return
	}
	response.Success(c, contact)
}

// ListAttachments returns every attachment shared in the chat.
func (h *HTTPHandler) ListAttachments(c *gin.Context) {
	user, chatID, ok := h.chatRequest(c)
	if !ok {
		return
	}

	attachments, err := h.service.ListAttachments(c.Request.Context(), chatID, user.ID)
	if err != nil {
		h.writeChatError(c, err, "failed to list attachments")
		return
	}
	response.Success(c, attachments)
}

// chatRequest extracts the caller and the :id path parameter.
func (h *HTTPHandler) chatRequest(c *gin.Context) (user *domain.User, chatID uint, ok bool) {
	u, found := currentUser(c)
	if !found {
		response.Unauthorized(c, "authentication required")
		return nil, 0, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid chat id")
		return nil, 0, false
	}
	return u, uint(id), true
}

func (h *HTTPHandler) writeChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		response.NotFound(c, "chat not found")
	case errors.Is(err, service.ErrNotParticipant):
		response.Forbidden(c, "not a participant of this chat")
	case errors.Is(err, service.ErrContactNotFound):
		response.NotFound(c, "contact not found")
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(fallback)
		response.InternalError(c, fallback)
	}
}
