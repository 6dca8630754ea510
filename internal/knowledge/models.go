package knowledge

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

type Document struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	URL         string         `gorm:"type:varchar(512);uniqueIndex;not null" json:"url"`
	Title       string         `gorm:"type:varchar(512);not null" json:"title"`
	Content     string         `gorm:"type:longtext;not null" json:"-"`
	ContentHash string         `gorm:"type:char(64);not null" json:"content_hash"`
	Language    string         `gorm:"type:varchar(8);index;not null" json:"language"`
	Metadata    map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	// UpdatedAt is written explicitly and only when ContentHash changes.
	UpdatedAt     time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
	LastCrawledAt *time.Time `gorm:"index" json:"last_crawled_at,omitempty"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Document) TableName() string { return "documents" }

type Chunk struct {
	// ID is autoincremented; it is the insertion order used to break ties.
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID string         `gorm:"type:varchar(36);index;not null" json:"document_id"`
	Position   int            `gorm:"not null" json:"position"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Language   string         `gorm:"type:varchar(8);index;not null" json:"language"`
	Embedding  Vector         `gorm:"type:blob;not null" json:"-"`
	Metadata   map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Chunk) TableName() string { return "chunks" }

// Vector is stored as little-endian float32 bytes.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

func (v *Vector) Scan(src any) error {
	var b []byte
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		b = s
	case string:
		b = []byte(s)
	default:
		return fmt.Errorf("vector: cannot scan %T", src)
	}
	if len(b)%4 != 0 {
		return errors.New("vector: byte length is not a multiple of 4")
	}
	out := make(Vector, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	*v = out
	return nil
}
