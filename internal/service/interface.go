package service

import (
	"context"
	"errors"

	"github.com/zaliubovskiy/chatrelay/internal/domain"
)

var (
	ErrAuthorNotFound       = errors.New("author not found")
	ErrRoomNotFound         = errors.New("chat room not found")
	ErrRoomDeleted          = errors.New("chat room is deleted")
	ErrContactNotFound      = errors.New("contact not found")
	ErrNotParticipant       = errors.New("user is not a participant of this chat")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// HistoryPage is one page of room history plus the page-count bound.
type HistoryPage struct {
	Messages []domain.MessageView `json:"messages"`
	MaxPages int                  `json:"max_pages"`
}

// ChatListEntry is one row of the chat listing for a caller.
type ChatListEntry struct {
	ChatID      uint             `json:"chat_id"`
	RoomID      string           `json:"room_id"`
	Contact     *domain.User     `json:"contact,omitempty"`
	UnreadCount int64            `json:"unread_messages"`
	LastMessage *LastMessageInfo `json:"last_message,omitempty"`
}

// LastMessageInfo summarises the latest message of a chat.
type LastMessageInfo struct {
	Text     string `json:"text"`
	AuthorID string `json:"author"`
}

// ChatService is the message pipeline, history fetcher, and the HTTP
// chat surface over them.
type ChatService interface {
	// Authenticate resolves a presented token to an identity.
	Authenticate(ctx context.Context, token string) (*domain.User, error)

	// NewMessage validates, persists, and only then broadcasts a text
	// message to every live session in the room, sender included.
	NewMessage(ctx context.Context, authorID, roomID, text string) (*domain.Message, error)

	// ShareFile persists a message with its attachment and blob as one
	// atomic unit, then broadcasts.
	ShareFile(ctx context.Context, cmd domain.ShareFileCommand) (*domain.Message, error)

	// FetchMessages returns one 1-indexed page of room history, newest
	// first. Pages past the end are empty, not errors.
	FetchMessages(ctx context.Context, roomID string, page int) (*HistoryPage, error)

	// GetRoom resolves a room for session admission; soft-deleted rooms
	// return ErrRoomDeleted.
	GetRoom(ctx context.Context, roomID string) (*domain.Chat, error)

	ListChats(ctx context.Context, userID string, archived bool) ([]ChatListEntry, error)
	CreateChat(ctx context.Context, userID, contactEmail string) (*domain.Chat, error)
	MarkViewed(ctx context.Context, chatID uint, userID string) error
	DeleteChat(ctx context.Context, chatID uint, userID string) error
	GetContact(ctx context.Context, chatID uint, userID string) (*domain.User, error)
	ListAttachments(ctx context.Context, chatID uint, userID string) ([]domain.AttachmentView, error)
}
