package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/hub"
	"github.com/zaliubovskiy/chatrelay/internal/service"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler admits websocket sessions and routes their decoded commands.
type WSHandler struct {
	registry hub.Registry
	service  service.ChatService
	wsCfg    config.WebSocketConfig
}

// NewWSHandler creates a websocket handler.
func NewWSHandler(registry hub.Registry, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		registry: registry,
		service:  svc,
		wsCfg:    wsCfg,
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/chat/:room_id", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and binds the session to the
// room named in the URL. The session joins the registry before
// authenticating, so it receives room broadcasts from the moment the
// upgrade completes. Unknown and soft-deleted rooms are refused before
// the upgrade.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	if _, err := h.service.GetRoom(ctx, roomID); err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			response.NotFound(c, "chat room not found")
		case errors.Is(err, service.ErrRoomDeleted):
			response.Error(c, http.StatusGone, "ROOM_DELETED", "chat room is deleted")
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to resolve room")
			response.InternalError(c, "failed to resolve room")
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.registry, h.wsCfg)
	client.Register(roomID)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// handleFrame decodes one inbound frame into the command union and
// dispatches it against the session's authentication state.
func (h *WSHandler) handleFrame(client *hub.Client, raw []byte) {
	ctx := h.sessionContext(client)

	cmd, err := domain.DecodeCommand(raw)
	if err != nil {
		// Undecodable frames are ignored before authentication and
		// reported as protocol errors after it.
		if client.State() == hub.StateAuthenticated {
			client.SendFrame(domain.NewErrorFrame(domain.ErrMsgInvalidCommand))
		}
		return
	}

	switch cmd := cmd.(type) {
	case domain.SetTokenCommand:
		h.handleSetToken(ctx, client, cmd)

	case domain.FetchMessagesCommand:
		if !h.requireAuth(client) {
			return
		}
		h.handleFetchMessages(ctx, client, cmd)

	case domain.NewMessageCommand:
		if !h.requireAuth(client) {
			return
		}
		h.handleNewMessage(ctx, client, cmd)

	case domain.ShareFileCommand:
		if !h.requireAuth(client) {
			return
		}
		h.handleShareFile(ctx, client, cmd)

	case domain.UnknownCommand:
		// No-op before authentication; protocol error after it.
		if client.State() == hub.StateAuthenticated {
			client.SendFrame(domain.NewErrorFrame(domain.ErrMsgInvalidCommand))
		}
	}
}

// requireAuth closes the session on a data command sent before
// authentication. No error frame: this is a protocol violation, not a
// recoverable condition.
func (h *WSHandler) requireAuth(client *hub.Client) bool {
	if client.State() != hub.StateAuthenticated {
		client.Close()
		return false
	}
	return true
}

func (h *WSHandler) handleSetToken(ctx context.Context, client *hub.Client, cmd domain.SetTokenCommand) {
	user, err := h.service.Authenticate(ctx, cmd.Token)
	if err != nil {
		client.SendFrame(domain.NewErrorFrame(domain.ErrMsgInvalidToken))
		client.CloseAfterFlush()
		return
	}
	client.Authenticate(user)
}

func (h *WSHandler) handleFetchMessages(ctx context.Context, client *hub.Client, cmd domain.FetchMessagesCommand) {
	page, err := h.service.FetchMessages(ctx, cmd.RoomID, cmd.PageNumber)
	if err != nil {
		client.SendFrame(domain.NewErrorFrame(h.errorMessage(ctx, err)))
		return
	}
	client.SendFrame(domain.NewMessagesFrame(page.Messages, page.MaxPages))
}

func (h *WSHandler) handleNewMessage(ctx context.Context, client *hub.Client, cmd domain.NewMessageCommand) {
	if _, err := h.service.NewMessage(ctx, cmd.From, cmd.RoomID, cmd.Text); err != nil {
		client.SendFrame(domain.NewErrorFrame(h.errorMessage(ctx, err)))
	}
	// Delivery to the sender happens through the room broadcast.
}

func (h *WSHandler) handleShareFile(ctx context.Context, client *hub.Client, cmd domain.ShareFileCommand) {
	if _, err := h.service.ShareFile(ctx, cmd); err != nil {
		client.SendFrame(domain.NewErrorFrame(h.errorMessage(ctx, err)))
	}
}

// errorMessage maps pipeline errors to the scoped wire messages. Errors
// without a scoped message are logged and reported generically.
func (h *WSHandler) errorMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, service.ErrAuthorNotFound):
		return domain.ErrMsgAuthorNotFound
	case errors.Is(err, service.ErrRoomNotFound):
		return domain.ErrMsgRoomNotFound
	case errors.Is(err, service.ErrUnsupportedExtension):
		return domain.ErrMsgBadExtension
	default:
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("chat pipeline failure")
		return domain.ErrMsgSendFailed
	}
}

// sessionContext builds a context carrying a session-scoped logger.
func (h *WSHandler) sessionContext(client *hub.Client) context.Context {
	logger := log.L().With().
		Str(log.FieldClientID, client.ID).
		Str(log.FieldRoomID, client.RoomID()).
		Logger()
	return log.WithLogger(context.Background(), logger)
}
