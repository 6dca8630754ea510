package ingest

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/govchat/internal/common"
)

// separators are tried in order; the first one found late enough in the
// window decides the cut.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// Chunker splits cleaned page text into overlapping windows measured in
// runes. Every chunk after the first starts with the last overlap runes of
// the previous chunk, and no chunk is longer than the target size.
type Chunker struct {
	target  int
	overlap int
}

func NewChunker(target, overlap int) (*Chunker, error) {
	if target <= 0 || overlap < 0 || overlap >= target {
		return nil, common.Configuration("chunker",
			fmt.Errorf("need 0 <= overlap < target, got target=%d overlap=%d", target, overlap))
	}
	return &Chunker{target: target, overlap: overlap}, nil
}

func (c *Chunker) Target() int  { return c.target }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk yields the chunks of text lazily. The sequence can be ranged over
// more than once and always yields the same chunks.
func (c *Chunker) Chunk(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(text)
		if len(runes) == 0 {
			return
		}
		if len(runes) <= c.target {
			yield(text)
			return
		}

		var prev []rune
		start := 0
		for start < len(runes) {
			budget := c.target - c.overlap
			minCut := budget / 2
			if prev == nil {
				budget = c.target
				minCut = max(budget/2, c.overlap)
			}

			end := len(runes)
			if end-start > budget {
				end = start + cut(runes[start:start+budget], max(minCut, 1))
			}

			var chunk []rune
			if prev == nil {
				chunk = runes[start:end]
			} else {
				tail := prev[len(prev)-c.overlap:]
				chunk = make([]rune, 0, len(tail)+end-start)
				chunk = append(chunk, tail...)
				chunk = append(chunk, runes[start:end]...)
			}
			if !yield(string(chunk)) {
				return
			}
			prev = chunk
			start = end
		}
	}
}

// Collect materializes a chunk sequence.
func Collect(seq iter.Seq[string]) []string {
	var out []string
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// cut returns how many runes of window to take. It prefers the strongest
// separator ending at or after minCut, else the whole window.
func cut(window []rune, minCut int) int {
	w := string(window)
	for _, sep := range separators {
		i := strings.LastIndex(w, sep)
		if i < 0 {
			continue
		}
		n := utf8.RuneCountInString(w[:i+len(sep)])
		if n >= minCut {
			return n
		}
	}
	return len(window)
}
