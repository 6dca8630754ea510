package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/knowledge"
	"github.com/suPer8Hu/govchat/internal/retry"
)

func (g *Graph) generate(ctx context.Context, t Turn) (State, error) {
	if t.Path == PathRetrieval && len(t.Hits) == 0 {
		t.Response = NoContextMessage(t.Language)
		t.Sources = nil
		return next(StateGuardrail, t), nil
	}

	msgs := []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt(t)},
		{Role: ai.RoleUser, Content: t.Input},
	}
	reply, err := g.chat(ctx, msgs)
	if err != nil {
		return State{}, err
	}

	t.Response = reply
	t.Sources = citations(t.Hits)
	return next(StateGuardrail, t), nil
}

// chat calls the provider under the retry policy, each attempt with its own
// deadline. An attempt that times out while the turn is still live counts as
// transient; the final attempt's error is returned as is.
func (g *Graph) chat(ctx context.Context, msgs []ai.Message) (string, error) {
	policy := retry.DefaultPolicy(g.cfg.GenerateAttempts)
	if g.cfg.RetryBase > 0 {
		policy.Base = g.cfg.RetryBase
	}

	var reply string
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, g.cfg.GenerateTimeout)
		defer cancel()

		out, err := g.deps.Provider.Chat(actx, msgs)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && common.KindOf(err) == common.KindUnknown {
				return common.TransientIO("generate", err)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return common.ProviderRejection("generate", errors.New("empty response"))
		}
		reply = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return reply, nil
}

// citations lists the supplied hits' pages once each, in rank order.
func citations(hits []knowledge.Hit) []chat.Source {
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(hits))
	out := make([]chat.Source, 0, len(hits))
	for _, h := range hits {
		if h.DocumentURL == "" {
			continue
		}
		if _, ok := seen[h.DocumentURL]; ok {
			continue
		}
		seen[h.DocumentURL] = struct{}{}
		out = append(out, chat.Source{URL: h.DocumentURL, Title: h.DocumentTitle})
	}
	return out
}
