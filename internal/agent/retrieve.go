package agent

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/govchat/internal/knowledge"
	"github.com/suPer8Hu/govchat/internal/lang"
	"go.uber.org/zap"
)

// retrieve embeds the message once and searches the turn language first.
// When that yields nothing or a weak top hit, the other supported language
// is searched with the same vector and the stronger result set wins.
func (g *Graph) retrieve(ctx context.Context, t Turn) (State, error) {
	vecs, err := g.deps.Embedder.Embed(ctx, []string{t.Input})
	if err != nil {
		return State{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return State{}, fmt.Errorf("embed query: got %d vectors for 1 text", len(vecs))
	}
	query := vecs[0]

	hits, err := g.deps.Index.Search(ctx, query, g.cfg.TopK, t.Language)
	if err != nil {
		return State{}, fmt.Errorf("search %s: %w", t.Language, err)
	}
	t.SearchLanguage = t.Language

	if weak(hits, g.cfg.FallbackThreshold) {
		if other, ok := lang.Other(t.Language, g.cfg.Languages); ok {
			if err := ctx.Err(); err != nil {
				return State{}, err
			}
			alt, err := g.deps.Index.Search(ctx, query, g.cfg.TopK, other)
			if err != nil {
				return State{}, fmt.Errorf("search %s: %w", other, err)
			}
			if len(alt) > 0 && (len(hits) == 0 || alt[0].Score > hits[0].Score) {
				g.log.Debug("retrieval fell back to other language",
					zap.String("from", t.Language), zap.String("to", other))
				hits = alt
				t.SearchLanguage = other
			}
		}
	}

	t.Hits = hits
	return next(StateGenerate, t), nil
}

func weak(hits []knowledge.Hit, threshold float64) bool {
	return len(hits) == 0 || hits[0].Score < threshold
}
