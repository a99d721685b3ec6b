package audit

import (
	"context"

	"github.com/zaliubovskiy/chatrelay/pkg/log"
)

// Audit actions.
const (
	ActionAuthSuccess = "chat.auth_success"
	ActionAuthFailed  = "chat.auth_failed"
	ActionMessageSent = "chat.message_sent"
	ActionFileShared  = "chat.file_shared"
	ActionChatCreated = "chat.created"
	ActionChatDeleted = "chat.deleted"
)

const fieldAction = "action"

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(fieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}
