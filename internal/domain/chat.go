package domain

import (
	"time"
)

// Chat is a room between a fixed set of participants. RoomID is the
// opaque external-facing identifier used on the wire; ID is the internal
// row id used by the HTTP surface.
type Chat struct {
	ID           uint      `json:"id"`
	RoomID       string    `json:"room_id"`
	IsDeleted    bool      `json:"is_deleted"`
	Participants []User    `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatModel is the GORM model for the chats table. Participants are a
// many-to-many with users through chat_participants.
type ChatModel struct {
	ID           uint        `gorm:"primaryKey"`
	RoomID       string      `gorm:"type:varchar(36);uniqueIndex;not null"`
	IsDeleted    bool        `gorm:"index;default:false"`
	Participants []UserModel `gorm:"many2many:chat_participants"`
	CreatedAt    time.Time   `gorm:"autoCreateTime"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ChatModel.
func (ChatModel) TableName() string {
	return "chats"
}

// ToDomain converts ChatModel to domain Chat.
func (m *ChatModel) ToDomain() *Chat {
	chat := &Chat{
		ID:        m.ID,
		RoomID:    m.RoomID,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt,
	}
	for i := range m.Participants {
		chat.Participants = append(chat.Participants, *m.Participants[i].ToDomain())
	}
	return chat
}

// OtherParticipant returns the participant that is not the given user,
// or nil if the chat has no such participant loaded.
func (c *Chat) OtherParticipant(userID string) *User {
	for i := range c.Participants {
		if c.Participants[i].ID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}
