package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
	"gorm.io/gorm"
)

// Repo is the Document Store: the authoritative record of ingested pages.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CrawlState is what the ingestion side needs to decide whether to re-index.
type CrawlState struct {
	DocumentID    string
	ContentHash   string
	LastCrawledAt *time.Time
}

type Stats struct {
	Documents   int64      `json:"documents"`
	Chunks      int64      `json:"chunks"`
	ByLanguage  []LangStat `json:"by_language"`
	LastCrawled *time.Time `json:"last_updated"`
}

type LangStat struct {
	Language  string `json:"language"`
	Documents int64  `json:"documents"`
}

func notFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.NotFound(op, err)
	}
	return err
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Document, error) {
	var d Document
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound("get document", err)
	}
	return &d, nil
}

func (r *Repo) GetByURL(ctx context.Context, url string) (*Document, error) {
	var d Document
	if err := r.db.WithContext(ctx).Where("url = ?", url).First(&d).Error; err != nil {
		return nil, notFound("get document", err)
	}
	return &d, nil
}

// CrawlState returns found=false when the URL was never ingested.
func (r *Repo) CrawlState(ctx context.Context, url string) (CrawlState, bool, error) {
	var d Document
	err := r.db.WithContext(ctx).
		Select("id", "content_hash", "last_crawled_at").
		Where("url = ?", url).
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CrawlState{}, false, nil
	}
	if err != nil {
		return CrawlState{}, false, err
	}
	return CrawlState{DocumentID: d.ID, ContentHash: d.ContentHash, LastCrawledAt: d.LastCrawledAt}, true, nil
}

// ContentHash returns the stored hash for url, found=false if there is none.
func (r *Repo) ContentHash(ctx context.Context, url string) (string, bool, error) {
	st, found, err := r.CrawlState(ctx, url)
	return st.ContentHash, found, err
}

// MarkCrawled records a crawl of an unchanged page without touching updated_at.
func (r *Repo) MarkCrawled(ctx context.Context, url string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Document{}).
		Where("url = ?", url).
		UpdateColumn("last_crawled_at", at).Error
}

func (r *Repo) List(ctx context.Context, language string, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := r.db.WithContext(ctx).
		Omit("content").
		Order("url ASC").
		Limit(limit).
		Offset(offset)
	if language != "" {
		q = q.Where("language = ?", language)
	}
	var docs []Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// URLs lists every stored URL, used to report pages that vanished upstream.
func (r *Repo) URLs(ctx context.Context) ([]string, error) {
	var urls []string
	if err := r.db.WithContext(ctx).Model(&Document{}).Order("url ASC").Pluck("url", &urls).Error; err != nil {
		return nil, err
	}
	return urls, nil
}

// Chunks returns the chunks of a document in position order.
func (r *Repo) Chunks(ctx context.Context, documentID string) ([]Chunk, error) {
	var chunks []Chunk
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("position ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// Delete removes a document and its chunks. Deletion is always explicit;
// the crawler never calls it on its own.
func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.NotFound("delete document", fmt.Errorf("document %s", id))
		}
		return nil
	})
}

func (r *Repo) DeleteByURL(ctx context.Context, url string) error {
	st, found, err := r.CrawlState(ctx, url)
	if err != nil {
		return err
	}
	if !found {
		return common.NotFound("delete document", fmt.Errorf("url %s", url))
	}
	return r.Delete(ctx, st.DocumentID)
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	db := r.db.WithContext(ctx)
	if err := db.Model(&Document{}).Count(&s.Documents).Error; err != nil {
		return s, err
	}
	if err := db.Model(&Chunk{}).Count(&s.Chunks).Error; err != nil {
		return s, err
	}
	if err := db.Model(&Document{}).
		Select("language, count(*) as documents").
		Group("language").
		Order("language ASC").
		Scan(&s.ByLanguage).Error; err != nil {
		return s, err
	}

	var latest Document
	err := db.Select("last_crawled_at").
		Where("last_crawled_at IS NOT NULL").
		Order("last_crawled_at DESC").
		Take(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return s, err
	}
	s.LastCrawled = latest.LastCrawledAt
	return s, nil
}
