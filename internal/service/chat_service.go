package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zaliubovskiy/chatrelay/internal/audit"
	"github.com/zaliubovskiy/chatrelay/internal/auth"
	"github.com/zaliubovskiy/chatrelay/internal/cache"
	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/hub"
	"github.com/zaliubovskiy/chatrelay/internal/repository"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/storage"
)

const storagePrefix = "chat_files/"

// roomLockShards partitions the per-room commit locks so unrelated
// rooms never contend.
const roomLockShards = 64

type chatService struct {
	users     repository.UserRepository
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	registry  hub.Registry
	blobs     storage.Storage
	validator auth.Validator
	history   cache.HistoryCache // optional, may be nil
	cfg       config.ChatConfig
	cacheTTL  time.Duration
	urlTTL    time.Duration

	// Persist+broadcast is serialized per room so broadcasts are
	// observed in commit order within a room.
	roomLocks [roomLockShards]sync.Mutex
	sf        singleflight.Group

	// Per-room commit counters. A history page fetched while the
	// counter moves must not be cached.
	gens sync.Map
}

// NewChatService wires the message pipeline and history fetcher.
// history may be nil to run without a page cache.
func NewChatService(
	users repository.UserRepository,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	registry hub.Registry,
	blobs storage.Storage,
	validator auth.Validator,
	history cache.HistoryCache,
	cfg config.ChatConfig,
	cacheTTL, urlTTL time.Duration,
) ChatService {
	return &chatService{
		users:     users,
		chats:     chats,
		messages:  messages,
		registry:  registry,
		blobs:     blobs,
		validator: validator,
		history:   history,
		cfg:       cfg,
		cacheTTL:  cacheTTL,
		urlTTL:    urlTTL,
	}
}

// Authenticate resolves a presented token to an identity.
func (s *chatService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	user, err := s.validator.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			audit.Log(ctx, audit.ActionAuthFailed, "", "token rejected")
		}
		return nil, err
	}
	audit.Log(ctx, audit.ActionAuthSuccess, user.ID, "session authenticated")
	return user, nil
}

// GetRoom resolves a room for session admission.
func (s *chatService) GetRoom(ctx context.Context, roomID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if chat.IsDeleted {
		return nil, ErrRoomDeleted
	}
	return chat, nil
}

// NewMessage validates, persists, then broadcasts. Broadcast strictly
// follows commit; a failed resolve or write never reaches the registry.
func (s *chatService) NewMessage(ctx context.Context, authorID, roomID, text string) (*domain.Message, error) {
	author, chat, err := s.resolve(ctx, authorID, roomID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	msg, err := s.messages.Create(ctx, chat, author.ID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	s.afterCommit(ctx, roomID, msg)
	audit.Log(ctx, audit.ActionMessageSent, author.ID, "message sent")
	return msg, nil
}

// ShareFile persists a message, attachment row, and blob as one atomic
// unit, then broadcasts. A blob failure rolls the rows back; a commit
// failure after the blob write triggers a compensating blob delete.
func (s *chatService) ShareFile(ctx context.Context, cmd domain.ShareFileCommand) (*domain.Message, error) {
	author, chat, err := s.resolve(ctx, cmd.From, cmd.RoomID)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(cmd.Filename))
	if !s.extensionAllowed(ext) {
		return nil, ErrUnsupportedExtension
	}

	key := storagePrefix + uuid.New().String() + ext
	att := &domain.Attachment{
		Filename:   cmd.Filename,
		Size:       cmd.Size,
		Extension:  strings.TrimPrefix(ext, "."),
		StorageKey: key,
	}

	unlock := s.lockRoom(cmd.RoomID)
	defer unlock()

	wroteBlob := false
	msg, err := s.messages.CreateWithAttachment(ctx, chat, author.ID, "File: "+cmd.Filename, att,
		func(ctx context.Context) error {
			if err := s.blobs.Write(ctx, key, bytes.NewReader(cmd.Data), int64(len(cmd.Data)), ""); err != nil {
				return fmt.Errorf("failed to store attachment bytes: %w", err)
			}
			wroteBlob = true
			return nil
		})
	if err != nil {
		if wroteBlob {
			// Rows rolled back after the blob landed; remove the orphan.
			if delErr := s.blobs.Delete(ctx, key); delErr != nil {
				l := log.Ctx(ctx)
				l.Error().Err(delErr).Str("storage_key", key).Msg("failed to delete orphaned blob")
			}
		}
		return nil, fmt.Errorf("failed to persist file message: %w", err)
	}

	s.attachURL(ctx, msg)
	s.afterCommit(ctx, cmd.RoomID, msg)
	audit.Log(ctx, audit.ActionFileShared, author.ID, "file shared")
	return msg, nil
}

// FetchMessages returns one page of room history, newest first.
// Soft-deleted rooms still serve their retained history.
func (s *chatService) FetchMessages(ctx context.Context, roomID string, page int) (*HistoryPage, error) {
	chat, err := s.chats.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	pageSize := s.pageSize()

	if s.history == nil {
		return s.fetchPage(ctx, chat, page, pageSize)
	}

	key := s.history.BuildKey(roomID, page, pageSize)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		gen := s.roomGen(roomID).Load()

		cached, err := s.history.Get(ctx, key)
		if err == nil {
			return &HistoryPage{Messages: cached.Messages, MaxPages: cached.MaxPages}, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("history cache get error")
		}

		fetched, err := s.fetchPage(ctx, chat, page, pageSize)
		if err != nil {
			return nil, err
		}

		// A commit since the fetch started shifts every page number;
		// caching this result would serve pre-commit history until the
		// TTL expires.
		if s.roomGen(roomID).Load() == gen {
			cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			entry := &cache.HistoryPage{Messages: fetched.Messages, MaxPages: fetched.MaxPages}
			if err := s.history.Set(cacheCtx, key, entry, s.cacheTTL); err != nil {
				l := log.Ctx(ctx)
				l.Warn().Err(err).Msg("history cache set error")
			}
		}

		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*HistoryPage), nil
}

// ListChats returns the caller's chats with unread counts, sorted by
// latest activity.
func (s *chatService) ListChats(ctx context.Context, userID string, archived bool) ([]ChatListEntry, error) {
	summaries, err := s.chats.ListForUser(ctx, userID, archived)
	if err != nil {
		return nil, err
	}

	entries := make([]ChatListEntry, 0, len(summaries))
	for _, sum := range summaries {
		entry := ChatListEntry{
			ChatID:      sum.Chat.ID,
			RoomID:      sum.Chat.RoomID,
			Contact:     sum.Chat.OtherParticipant(userID),
			UnreadCount: sum.UnreadCount,
		}
		if sum.LastMessage != nil {
			entry.LastMessage = &LastMessageInfo{
				Text:     sum.LastMessage.Text,
				AuthorID: sum.LastMessage.Author.ID,
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CreateChat returns the existing chat between the caller and the
// contact or creates one with a fresh room id.
func (s *chatService) CreateChat(ctx context.Context, userID, contactEmail string) (*domain.Chat, error) {
	contact, err := s.users.GetByEmail(ctx, contactEmail)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}

	chat, err := s.chats.GetOrCreate(ctx, userID, contact.ID)
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.ActionChatCreated, userID, "chat created")
	return chat, nil
}

// MarkViewed flips viewed on every unread message not authored by the
// caller.
func (s *chatService) MarkViewed(ctx context.Context, chatID uint, userID string) error {
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		return err
	}
	return s.messages.MarkViewed(ctx, chatID, userID)
}

// DeleteChat soft-deletes a chat; history is retained.
func (s *chatService) DeleteChat(ctx context.Context, chatID uint, userID string) error {
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.SoftDelete(ctx, chatID); err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	audit.Log(ctx, audit.ActionChatDeleted, userID, "chat deleted")
	return nil
}

// GetContact returns the chat participant other than the caller.
func (s *chatService) GetContact(ctx context.Context, chatID uint, userID string) (*domain.User, error) {
	chat, err := s.memberChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	contact := chat.OtherParticipant(userID)
	if contact == nil {
		return nil, ErrContactNotFound
	}
	return contact, nil
}

// ListAttachments returns every attachment of a chat with access URLs.
func (s *chatService) ListAttachments(ctx context.Context, chatID uint, userID string) ([]domain.AttachmentView, error) {
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		return nil, err
	}

	attachments, err := s.messages.ListAttachments(ctx, chatID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.AttachmentView, len(attachments))
	for i, att := range attachments {
		url, err := s.blobs.GetURL(ctx, att.StorageKey, s.urlTTL)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("storage_key", att.StorageKey).Msg("failed to build attachment url")
		}
		views[i] = domain.AttachmentView{
			Filename:  att.Filename,
			Size:      att.Size,
			URL:       url,
			Extension: att.Extension,
		}
	}
	return views, nil
}

// resolve maps the author and room ids to entities with the pipeline's
// scoped not-found errors.
func (s *chatService) resolve(ctx context.Context, authorID, roomID string) (*domain.User, *domain.Chat, error) {
	author, err := s.users.GetByID(ctx, authorID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrAuthorNotFound
		}
		return nil, nil, err
	}

	chat, err := s.chats.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}

	return author, chat, nil
}

// memberChat loads a chat and verifies the caller participates in it.
func (s *chatService) memberChat(ctx context.Context, chatID uint, userID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	for _, p := range chat.Participants {
		if p.ID == userID {
			return chat, nil
		}
	}
	return nil, ErrNotParticipant
}

// afterCommit invalidates cached history pages and fans the committed
// message out to the room, sender included.
func (s *chatService) afterCommit(ctx context.Context, roomID string, msg *domain.Message) {
	if s.history != nil {
		s.roomGen(roomID).Add(1)
		if err := s.history.InvalidateRoom(ctx, roomID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to invalidate history cache")
		}
	}
	s.registry.Broadcast(roomID, domain.NewNewMessageFrame(domain.NewMessageView(msg)))
}

// fetchPage reads one page from the repository and projects it.
func (s *chatService) fetchPage(ctx context.Context, chat *domain.Chat, page, pageSize int) (*HistoryPage, error) {
	messages, total, err := s.messages.ListPage(ctx, chat, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history page: %w", err)
	}

	views := make([]domain.MessageView, len(messages))
	for i := range messages {
		s.attachURL(ctx, &messages[i])
		views[i] = domain.NewMessageView(&messages[i])
	}

	return &HistoryPage{
		Messages: views,
		MaxPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// attachURL fills in the access URL on a message's attachment, if any.
func (s *chatService) attachURL(ctx context.Context, msg *domain.Message) {
	if msg.Attachment == nil {
		return
	}
	url, err := s.blobs.GetURL(ctx, msg.Attachment.StorageKey, s.urlTTL)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("storage_key", msg.Attachment.StorageKey).Msg("failed to build attachment url")
		return
	}
	msg.Attachment.URL = url
}

func (s *chatService) extensionAllowed(ext string) bool {
	if len(s.cfg.AllowedExtensions) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func (s *chatService) pageSize() int {
	if s.cfg.PageSize > 0 {
		return s.cfg.PageSize
	}
	return 20
}

// roomGen returns the commit counter for a room.
func (s *chatService) roomGen(roomID string) *atomic.Uint64 {
	v, _ := s.gens.LoadOrStore(roomID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// lockRoom serializes persist+broadcast for one room. Locks are striped
// by room id so unrelated rooms do not contend.
func (s *chatService) lockRoom(roomID string) func() {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	shard := &s.roomLocks[h.Sum32()%roomLockShards]
	shard.Lock()
	return shard.Unlock
}
