package chat

import "time"

type Session struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID      string         `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	Language       string         `gorm:"type:varchar(8);not null" json:"language"`
	Metadata       map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	LastActivityAt time.Time      `gorm:"index;not null" json:"last_activity_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "chat_sessions" }

// Source is a page an assistant answer was grounded on.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Message struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string         `gorm:"type:varchar(26);index:idx_chat_msg_session_id;not null" json:"session_id"`
	Role      string         `gorm:"type:varchar(16);not null" json:"role"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	Sources   []Source       `gorm:"serializer:json;type:text" json:"sources,omitempty"`
	Metadata  map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
