package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create persists a plain text message. The row is committed before this
// returns; the caller broadcasts only afterwards.
func (r *GormMessageRepository) Create(ctx context.Context, chat *domain.Chat, authorID, text string) (*domain.Message, error) {
	model := domain.MessageModel{
		ChatID:   chat.ID,
		AuthorID: authorID,
		Text:     text,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, err
	}
	return r.load(ctx, model.ID, chat.RoomID)
}

// CreateWithAttachment persists a message and its attachment atomically.
// store runs inside the transaction after both rows exist; if it fails
// everything rolls back and no rows survive.
func (r *GormMessageRepository) CreateWithAttachment(
	ctx context.Context,
	chat *domain.Chat,
	authorID, text string,
	att *domain.Attachment,
	store func(ctx context.Context) error,
) (*domain.Message, error) {
	model := domain.MessageModel{
		ChatID:   chat.ID,
		AuthorID: authorID,
		Text:     text,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}

		attModel := domain.AttachmentModel{
			MessageID:  model.ID,
			Filename:   att.Filename,
			Size:       att.Size,
			Extension:  att.Extension,
			StorageKey: att.StorageKey,
		}
		if err := tx.Create(&attModel).Error; err != nil {
			return err
		}

		return store(ctx)
	})
	if err != nil {
		return nil, err
	}

	return r.load(ctx, model.ID, chat.RoomID)
}

// ListPage returns one 1-indexed page ordered newest first plus the
// total count. Pages past the end come back empty, not as an error.
func (r *GormMessageRepository) ListPage(ctx context.Context, chat *domain.Chat, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("chat_id = ?", chat.ID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Attachment").
		Where("chat_id = ?", chat.ID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[i] = *models[i].ToDomain(chat.RoomID)
	}

	return messages, total, nil
}

// MarkViewed flips viewed on every unread message in the chat not
// authored by the given user.
func (r *GormMessageRepository) MarkViewed(ctx context.Context, chatID uint, excludeAuthorID string) error {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("chat_id = ? AND viewed = ? AND author_id <> ?", chatID, false, excludeAuthorID).
		Update("viewed", true)
	if result.Error != nil {
		return result.Error
	}
	l := log.Ctx(ctx)
	l.Debug().Uint("chat_id", chatID).Int64("rows", result.RowsAffected).Msg("messages marked viewed")
	return nil
}

// ListAttachments returns every attachment in a chat, newest first.
func (r *GormMessageRepository) ListAttachments(ctx context.Context, chatID uint) ([]domain.Attachment, error) {
	var models []domain.AttachmentModel
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("messages.chat_id = ?", chatID).
		Order("attachments.created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, len(models))
	for i, m := range models {
		attachments[i] = domain.Attachment{
			ID:         m.ID,
			Filename:   m.Filename,
			Size:       m.Size,
			Extension:  m.Extension,
			StorageKey: m.StorageKey,
		}
	}
	return attachments, nil
}

// load re-reads a committed message with author and attachment loaded.
func (r *GormMessageRepository) load(ctx context.Context, id uint, roomID string) (*domain.Message, error) {
	var model domain.MessageModel
	result := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Attachment").
		First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(roomID), nil
}
