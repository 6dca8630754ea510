package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/govchat/internal/common"
	"gorm.io/gorm"
)

type ReplaceResult string

const (
	Created   ReplaceResult = "created"
	Updated   ReplaceResult = "updated"
	Unchanged ReplaceResult = "unchanged"
)

// Hit is one search result. Distance is cosine distance (1 - similarity);
// Score is the similarity.
type Hit struct {
	Chunk         Chunk
	DocumentURL   string
	DocumentTitle string
	Distance      float64
	Score         float64
}

// Index is the Vector Index over chunk embeddings. Search is an exact scan
// ordered by cosine distance.
type Index struct {
	db   *gorm.DB
	dims int
	maxK int
	now  func() time.Time
}

func NewIndex(db *gorm.DB, dims, maxK int) *Index {
	if maxK <= 0 {
		maxK = 20
	}
	return &Index{db: db, dims: dims, maxK: maxK, now: func() time.Time { return time.Now().UTC() }}
}

func (x *Index) MaxK() int { return x.maxK }

// Replace writes doc and swaps its whole chunk set in one transaction.
// doc is matched by URL. When the stored hash equals doc.ContentHash nothing
// is written and Unchanged is returned.
func (x *Index) Replace(ctx context.Context, doc *Document, chunks []Chunk) (ReplaceResult, error) {
	if doc.URL == "" || doc.ContentHash == "" {
		return "", errors.New("replace: document url and content hash are required")
	}
	for i := range chunks {
		if x.dims > 0 && len(chunks[i].Embedding) != x.dims {
			return "", common.Configuration("replace",
				fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(chunks[i].Embedding), x.dims))
		}
	}

	var result ReplaceResult
	err := x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := x.now()

		var existing Document
		err := tx.Where("url = ?", doc.URL).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if doc.ID == "" {
				doc.ID = uuid.NewString()
			}
			doc.CreatedAt = now
			doc.UpdatedAt = now
			doc.LastCrawledAt = &now
			if err := tx.Omit("Chunks").Create(doc).Error; err != nil {
				return fmt.Errorf("create document: %w", err)
			}
			result = Created

		case err != nil:
			return err

		case existing.ContentHash == doc.ContentHash:
			if err := tx.Model(&Document{}).Where("id = ?", existing.ID).
				UpdateColumn("last_crawled_at", now).Error; err != nil {
				return err
			}
			*doc = existing
			doc.LastCrawledAt = &now
			result = Unchanged
			return nil

		default:
			doc.ID = existing.ID
			doc.CreatedAt = existing.CreatedAt
			doc.UpdatedAt = now
			doc.LastCrawledAt = &now
			if err := tx.Model(&Document{}).Where("id = ?", existing.ID).
				Select("title", "content", "content_hash", "language", "metadata", "updated_at", "last_crawled_at").
				Updates(doc).Error; err != nil {
				return fmt.Errorf("update document: %w", err)
			}
			if err := tx.Where("document_id = ?", existing.ID).Delete(&Chunk{}).Error; err != nil {
				return fmt.Errorf("delete chunks: %w", err)
			}
			result = Updated
		}

		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].ID = 0
			chunks[i].DocumentID = doc.ID
			chunks[i].Position = i
			if chunks[i].Language == "" {
				chunks[i].Language = doc.Language
			}
		}
		if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

type scored struct {
	id       uint64
	docID    string
	distance float64
}

// Search returns up to k chunks nearest to query, ascending by distance.
// An empty language searches every language. k is capped at MaxK; k <= 0
// and an empty index yield an empty result.
func (x *Index) Search(ctx context.Context, query []float32, k int, language string) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if k > x.maxK {
		k = x.maxK
	}
	if x.dims > 0 && len(query) != x.dims {
		return nil, common.Configuration("search",
			fmt.Errorf("query has %d dimensions, index expects %d", len(query), x.dims))
	}

	hits := []Hit{}
	err := x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Chunk
		q := tx.Model(&Chunk{}).Select("id", "document_id", "embedding").Order("id ASC")
		if language != "" {
			q = q.Where("language = ?", language)
		}
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ranked := make([]scored, 0, len(rows))
		for _, r := range rows {
			ranked = append(ranked, scored{id: r.ID, docID: r.DocumentID, distance: CosineDistance(query, r.Embedding)})
		}
		// rows are in id order, so a stable sort keeps insertion order on ties
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].distance < ranked[j].distance })
		if len(ranked) > k {
			ranked = ranked[:k]
		}

		ids := make([]uint64, 0, len(ranked))
		docIDs := make([]string, 0, len(ranked))
		for _, s := range ranked {
			ids = append(ids, s.id)
			docIDs = append(docIDs, s.docID)
		}

		var full []Chunk
		if err := tx.Omit("embedding").Where("id IN ?", ids).Find(&full).Error; err != nil {
			return err
		}
		byID := make(map[uint64]Chunk, len(full))
		for _, c := range full {
			byID[c.ID] = c
		}

		var docs []Document
		if err := tx.Select("id", "url", "title").Where("id IN ?", docIDs).Find(&docs).Error; err != nil {
			return err
		}
		byDoc := make(map[string]Document, len(docs))
		for _, d := range docs {
			byDoc[d.ID] = d
		}

		for _, s := range ranked {
			c, ok := byID[s.id]
			if !ok {
				continue
			}
			d := byDoc[s.docID]
			hits = append(hits, Hit{
				Chunk:         c,
				DocumentURL:   d.URL,
				DocumentTitle: d.Title,
				Distance:      s.distance,
				Score:         1 - s.distance,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
