package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zaliubovskiy/chatrelay/internal/domain"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrChatNotFound  = errors.New("chat not found")
	ErrTokenNotFound = errors.New("token not found")
)

// UserRepository resolves participant identities. User lifecycle is
// managed elsewhere; this service only reads.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ResolveToken(ctx context.Context, key string) (*domain.User, error)
}

// ChatSummary is a chat listing entry with unread-tracking data for one
// caller.
type ChatSummary struct {
	Chat        domain.Chat
	UnreadCount int64
	LastMessage *domain.Message
}

// sortingTime orders listings by latest message, falling back to chat
// creation.
func (s ChatSummary) sortingTime() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Chat.CreatedAt
}

// ChatRepository manages chat rooms and participant membership.
type ChatRepository interface {
	// GetByRoomID returns the chat for an external room id, deleted or
	// not; callers inspect IsDeleted.
	GetByRoomID(ctx context.Context, roomID string) (*domain.Chat, error)
	GetByID(ctx context.Context, id uint) (*domain.Chat, error)

	// GetOrCreate returns the existing chat between the two users or
	// creates one with a fresh room id.
	GetOrCreate(ctx context.Context, userID, otherID string) (*domain.Chat, error)

	// ListForUser returns the caller's chats with unread counts and last
	// messages, sorted by latest activity. archived selects soft-deleted
	// chats instead of active ones.
	ListForUser(ctx context.Context, userID string, archived bool) ([]ChatSummary, error)

	SoftDelete(ctx context.Context, id uint) error
}

// MessageRepository persists and pages messages. Creation is
// transactional: for attachments the blob write runs inside the same
// transaction so a storage failure rolls the rows back.
type MessageRepository interface {
	Create(ctx context.Context, chat *domain.Chat, authorID, text string) (*domain.Message, error)

	// CreateWithAttachment creates the message and attachment rows and
	// invokes store inside the transaction after the rows exist. If
	// store returns an error the whole transaction rolls back and no
	// rows survive.
	CreateWithAttachment(
		ctx context.Context,
		chat *domain.Chat,
		authorID, text string,
		att *domain.Attachment,
		store func(ctx context.Context) error,
	) (*domain.Message, error)

	// ListPage returns one 1-indexed page, newest first, plus the total
	// message count for the chat. An out-of-range page is an empty page.
	ListPage(ctx context.Context, chat *domain.Chat, page, pageSize int) ([]domain.Message, int64, error)

	// MarkViewed flips viewed on every unread message in the chat not
	// authored by the given user.
	MarkViewed(ctx context.Context, chatID uint, excludeAuthorID string) error

	ListAttachments(ctx context.Context, chatID uint) ([]domain.Attachment, error)
}
