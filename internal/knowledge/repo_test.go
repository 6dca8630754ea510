package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/govchat/internal/common"
)

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	_, err := idx.Replace(ctx, doc("https://x.test/en/b", "h1", "en"), withVectors(chunksOf("b0", "b1"), []float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	_, err = idx.Replace(ctx, doc("https://x.test/en/a", "h2", "en"), withVectors(chunksOf("a0"), []float32{1, 0}))
	require.NoError(t, err)
	_, err = idx.Replace(ctx, doc("https://x.test/fr/a", "h3", "fr"), withVectors(chunksOf("f0"), []float32{1, 0}))
	require.NoError(t, err)
}

func TestRepo_CrawlStateAndMarkCrawled(t *testing.T) {
	db := openTestDB(t)
	idx := NewIndex(db, 2, 10)
	repo := NewRepo(db)
	ctx := context.Background()
	seed(t, idx)

	_, found, err := repo.CrawlState(ctx, "https://x.test/missing")
	require.NoError(t, err)
	assert.False(t, found)

	hash, found, err := repo.ContentHash(ctx, "https://x.test/en/a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "h2", hash)

	before, err := repo.GetByURL(ctx, "https://x.test/en/a")
	require.NoError(t, err)

	later := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.MarkCrawled(ctx, "https://x.test/en/a", later))

	after, err := repo.GetByURL(ctx, "https://x.test/en/a")
	require.NoError(t, err)
	require.NotNil(t, after.LastCrawledAt)
	assert.WithinDuration(t, later, *after.LastCrawledAt, time.Second)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestRepo_ListAndURLs(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seed(t, NewIndex(db, 2, 10))
	ctx := context.Background()

	docs, err := repo.List(ctx, "en", 10, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "https://x.test/en/a", docs[0].URL)
	assert.Empty(t, docs[0].Content, "listing omits page bodies")

	urls, err := repo.URLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.test/en/a", "https://x.test/en/b", "https://x.test/fr/a"}, urls)
}

func TestRepo_DeleteCascadesChunks(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seed(t, NewIndex(db, 2, 10))
	ctx := context.Background()

	d, err := repo.GetByURL(ctx, "https://x.test/en/b")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, d.ID))

	chunks, err := repo.Chunks(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = repo.GetByURL(ctx, "https://x.test/en/b")
	assert.True(t, common.IsKind(err, common.KindNotFound))

	err = repo.Delete(ctx, d.ID)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestRepo_Stats(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seed(t, NewIndex(db, 2, 10))

	s, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Documents)
	assert.Equal(t, int64(4), s.Chunks)
	require.Len(t, s.ByLanguage, 2)
	assert.Equal(t, LangStat{Language: "en", Documents: 2}, s.ByLanguage[0])
	assert.NotNil(t, s.LastCrawled)
}
