package domain

import (
	"time"
)

// TimestampFormat is the stable wire format for message timestamps.
const TimestampFormat = time.RFC3339

// Message belongs to exactly one chat, authored by one participant.
// Text and CreatedAt are immutable after creation; Viewed flips to true
// only when a non-author participant marks the chat as viewed.
type Message struct {
	ID         uint        `json:"id"`
	ChatID     uint        `json:"chat_id"`
	RoomID     string      `json:"room_id"`
	Author     User        `json:"author"`
	Text       string      `json:"text"`
	Viewed     bool        `json:"viewed"`
	CreatedAt  time.Time   `json:"created_at"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is optional, one-to-one with its message. Bytes live in
// blob storage; StorageKey is the locator.
type Attachment struct {
	ID         uint   `json:"id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Extension  string `json:"extension"`
	StorageKey string `json:"-"`
	URL        string `json:"url"`
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID         uint             `gorm:"primaryKey"`
	ChatID     uint             `gorm:"index;not null"`
	Chat       ChatModel        `gorm:"foreignKey:ChatID"`
	AuthorID   string           `gorm:"type:varchar(36);index;not null"`
	Author     UserModel        `gorm:"foreignKey:AuthorID"`
	Text       string           `gorm:"type:text;not null"`
	Viewed     bool             `gorm:"default:false"`
	CreatedAt  time.Time        `gorm:"autoCreateTime;index"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime"`
	Attachment *AttachmentModel `gorm:"foreignKey:MessageID"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// AttachmentModel is the GORM model for the attachments table.
type AttachmentModel struct {
	ID         uint      `gorm:"primaryKey"`
	MessageID  uint      `gorm:"uniqueIndex;not null"`
	Filename   string    `gorm:"type:varchar(255);not null"`
	Size       int64     `gorm:"not null;default:0"`
	Extension  string    `gorm:"type:varchar(10)"`
	StorageKey string    `gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for AttachmentModel.
func (AttachmentModel) TableName() string {
	return "attachments"
}

// ToDomain converts MessageModel to domain Message. roomID comes from
// the owning chat; the model's Chat association may not be loaded.
func (m *MessageModel) ToDomain(roomID string) *Message {
	msg := &Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		RoomID:    roomID,
		Author:    *m.Author.ToDomain(),
		Text:      m.Text,
		Viewed:    m.Viewed,
		CreatedAt: m.CreatedAt,
	}
	if m.Attachment != nil {
		msg.Attachment = &Attachment{
			ID:         m.Attachment.ID,
			Filename:   m.Attachment.Filename,
			Size:       m.Attachment.Size,
			Extension:  m.Attachment.Extension,
			StorageKey: m.Attachment.StorageKey,
		}
	}
	return msg
}

// AttachmentView is the wire projection of an attachment.
type AttachmentView struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
	Extension string `json:"extension"`
}

// MessageView is the wire projection of a message. It is the single
// shape used by both history pages and broadcast frames.
type MessageView struct {
	ID         uint            `json:"id"`
	Author     string          `json:"author"`
	Content    string          `json:"content"`
	Timestamp  string          `json:"timestamp"`
	RoomID     string          `json:"room_id"`
	Attachment *AttachmentView `json:"attachment,omitempty"`
}

// NewMessageView builds the wire projection for a message. The attachment
// sub-object is present iff the message owns one.
func NewMessageView(msg *Message) MessageView {
	view := MessageView{
		ID:        msg.ID,
		Author:    msg.Author.Email,
		Content:   msg.Text,
		Timestamp: msg.CreatedAt.UTC().Format(TimestampFormat),
		RoomID:    msg.RoomID,
	}
	if msg.Attachment != nil {
		view.Attachment = &AttachmentView{
			Filename:  msg.Attachment.Filename,
			Size:      msg.Attachment.Size,
			URL:       msg.Attachment.URL,
			Extension: msg.Attachment.Extension,
		}
	}
	return view
}
