package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
)

// GormChatRepository implements ChatRepository using GORM.
type GormChatRepository struct {
	db *gorm.DB
}

// NewGormChatRepository creates a new GORM-based chat repository.
func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db}
}

// GetByRoomID retrieves a chat by its external room id, participants
// preloaded. Soft-deleted chats are returned with IsDeleted set.
func (r *GormChatRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Chat, error) {
	var model domain.ChatModel
	result := r.db.WithContext(ctx).Preload("Participants").First(&model, "room_id = ?", roomID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByID retrieves a chat by its internal row id.
func (r *GormChatRepository) GetByID(ctx context.Context, id uint) (*domain.Chat, error) {
	var model domain.ChatModel
	result := r.db.WithContext(ctx).Preload("Participants").First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetOrCreate returns the existing active chat between the two users or
// creates one with a fresh room id.
func (r *GormChatRepository) GetOrCreate(ctx context.Context, userID, otherID string) (*domain.Chat, error) {
	l := log.Ctx(ctx)

	var existing []domain.ChatModel
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN chat_participants cp1 ON cp1.chat_model_id = chats.id AND cp1.user_model_id = ?", userID).
		Joins("JOIN chat_participants cp2 ON cp2.chat_model_id = chats.id AND cp2.user_model_id = ?", otherID).
		Where("chats.is_deleted = ?", false).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0].ToDomain(), nil
	}

	model := domain.ChatModel{RoomID: uuid.New().String()}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		users := []domain.UserModel{{ID: userID}, {ID: otherID}}
		return tx.Model(&model).Association("Participants").Append(&users)
	})
	if err != nil {
		l.Error().Err(err).Msg("failed to create chat")
		return nil, err
	}

	return r.GetByID(ctx, model.ID)
}

// ListForUser returns the caller's chats sorted by latest message time,
// falling back to chat creation time, with per-chat unread counts.
func (r *GormChatRepository) ListForUser(ctx context.Context, userID string, archived bool) ([]ChatSummary, error) {
	var models []domain.ChatModel
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN chat_participants cp ON cp.chat_model_id = chats.id AND cp.user_model_id = ?", userID).
		Where("chats.is_deleted = ?", archived).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(models))
	for i := range models {
		chat := models[i].ToDomain()

		var unread int64
		err = r.db.WithContext(ctx).Model(&domain.MessageModel{}).
			Where("chat_id = ? AND viewed = ? AND author_id <> ?", chat.ID, false, userID).
			Count(&unread).Error
		if err != nil {
			return nil, err
		}

		var last domain.MessageModel
		var lastMsg *domain.Message
		err = r.db.WithContext(ctx).
			Preload("Author").
			Where("chat_id = ?", chat.ID).
			Order("created_at DESC").
			First(&last).Error
		switch {
		case err == nil:
			lastMsg = last.ToDomain(chat.RoomID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// chat has no messages yet
		default:
			return nil, err
		}

		summaries = append(summaries, ChatSummary{
			Chat:        *chat,
			UnreadCount: unread,
			LastMessage: lastMsg,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].sortingTime().After(summaries[j].sortingTime())
	})

	return summaries, nil
}

// SoftDelete marks a chat deleted. History is retained; new fan-out
// joins are rejected upstream.
func (r *GormChatRepository) SoftDelete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&domain.ChatModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}
