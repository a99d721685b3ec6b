package domain

import (
	"time"

	"gorm.io/gorm"
)

// User is a chat participant identity. Account management lives outside
// this service; users are only resolved here, never created.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID        string         `gorm:"type:varchar(36);primaryKey"`
	Email     string         `gorm:"type:varchar(255);uniqueIndex;not null"`
	FullName  string         `gorm:"type:varchar(100)"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:        m.ID,
		Email:     m.Email,
		FullName:  m.FullName,
		CreatedAt: m.CreatedAt,
	}
}

// TokenModel is the GORM model for the auth_tokens table. Tokens are
// opaque keys issued out-of-band and resolved to a user identity here.
type TokenModel struct {
	Key       string    `gorm:"type:varchar(64);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for TokenModel.
func (TokenModel) TableName() string {
	return "auth_tokens"
}
