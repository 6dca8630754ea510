package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/guardrail"
	"github.com/suPer8Hu/govchat/internal/knowledge"
	"github.com/suPer8Hu/govchat/internal/lang"
	"go.uber.org/zap"
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int, language string) ([]knowledge.Hit, error)
}

type TopicChecker interface {
	OnTopic(ctx context.Context, message string) bool
}

// Config is the per-graph behaviour. Zero values fall back to the defaults
// noted on each field.
type Config struct {
	Languages       []string // default en, fr
	DefaultLanguage string   // default en

	TopK              int     // default 5
	FallbackThreshold float64 // top score below this tries the other language

	// GenerateAttempts counts the first call. Default 3.
	GenerateAttempts int
	GenerateTimeout  time.Duration // per attempt, default 90s
	RetryBase        time.Duration
}

// Deps are the collaborators a graph runs against. Topic and Moderator are
// optional.
type Deps struct {
	Provider  ai.Provider
	Embedder  ai.Embedder
	Index     Searcher
	Injection *guardrail.InjectionDetector
	Topic     TopicChecker
	Moderator guardrail.Moderator
	Logger    *zap.Logger
}

type Graph struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

func NewGraph(cfg Config, d Deps) (*Graph, error) {
	if d.Provider == nil {
		return nil, common.Configf("agent: a generation provider is required")
	}
	if d.Embedder == nil || d.Index == nil {
		return nil, common.Configf("agent: an embedder and an index are required")
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{lang.English, lang.French}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = cfg.Languages[0]
	}
	if !lang.Supported(cfg.DefaultLanguage, cfg.Languages) {
		return nil, common.Configf("agent: default language %q is not supported", cfg.DefaultLanguage)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.GenerateAttempts <= 0 {
		cfg.GenerateAttempts = 3
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 90 * time.Second
	}
	if d.Injection == nil {
		d.Injection = guardrail.NewInjectionDetector(nil)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Graph{cfg: cfg, deps: d, log: d.Logger}, nil
}

// Start returns the entry state for a user message.
func Start(message, sessionLanguage string, history []ai.Message) State {
	return State{Kind: StateStart, Turn: Turn{
		Input:           message,
		SessionLanguage: sessionLanguage,
		History:         history,
	}}
}

// Step performs one transition. It returns an error only for failures the
// turn cannot recover from; Run turns those into a failed End.
func (g *Graph) Step(ctx context.Context, s State) (State, error) {
	t := s.Turn
	switch s.Kind {
	case StateStart:
		return g.start(t)
	case StateDetectLanguage:
		return g.detectLanguage(t), nil
	case StateScreen:
		return g.screen(ctx, t), nil
	case StateRoute:
		return g.route(t), nil
	case StateRetrieve:
		return g.retrieve(ctx, t)
	case StateGenerate:
		return g.generate(ctx, t)
	case StateGuardrail:
		return g.moderate(ctx, t)
	case StateEnd:
		return s, errors.New("step: turn already ended")
	}
	return s, fmt.Errorf("step: unknown state %q", s.Kind)
}

// Run steps from s until End. Cancellation is checked before every step and
// returned as an error; a step error ends the turn as failed with the
// language-matched failure message.
func (g *Graph) Run(ctx context.Context, s State) (State, error) {
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		s.Turn.Trace = append(s.Turn.Trace, s.Kind)
		from := s.Kind

		nextState, err := g.Step(ctx, s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s, ctxErr
			}
			if common.IsClientError(err) {
				return s, err
			}
			g.log.Error("chat turn failed",
				zap.String("state", string(from)),
				zap.String("language", s.Turn.Language),
				zap.Error(err))
			t := s.Turn
			if t.Language == "" {
				t.Language = g.fallbackLanguage(t.SessionLanguage)
			}
			t.Response = FailureMessage(t.Language)
			t.Sources = nil
			t.Err = err
			s = end(t, OutcomeFailed)
			break
		}
		s = nextState
	}
	s.Turn.Trace = append(s.Turn.Trace, StateEnd)
	return s, nil
}

func (g *Graph) start(t Turn) (State, error) {
	if strings.TrimSpace(t.Input) == "" {
		return State{}, common.InvalidInput("start", errors.New("message is required"))
	}
	t.Input, t.PIIKinds = guardrail.RedactPII(strings.TrimSpace(t.Input))
	return next(StateDetectLanguage, t), nil
}

func (g *Graph) fallbackLanguage(session string) string {
	if lang.Supported(session, g.cfg.Languages) {
		return session
	}
	return g.cfg.DefaultLanguage
}

func (g *Graph) detectLanguage(t Turn) State {
	if code, ok := lang.Detect(t.Input); ok && lang.Supported(code, g.cfg.Languages) {
		t.Language = code
	} else {
		t.Language = g.fallbackLanguage(t.SessionLanguage)
	}
	return next(StateScreen, t)
}

func (g *Graph) screen(ctx context.Context, t Turn) State {
	if phrase, ok := g.deps.Injection.Detect(t.Input); ok {
		g.log.Warn("prompt injection blocked", zap.String("phrase", phrase))
		t.BlockReason = ReasonInjection
		t.Response = InjectionMessage(t.Language)
		return end(t, OutcomeBlocked)
	}
	if g.deps.Topic != nil && !g.deps.Topic.OnTopic(ctx, t.Input) {
		t.BlockReason = ReasonOffTopic
		t.Response = RefusalMessage(t.Language)
		return end(t, OutcomeBlocked)
	}
	return next(StateRoute, t)
}

func (g *Graph) route(t Turn) State {
	if isSmallTalk(t.Input) {
		t.Path = PathSimple
		return next(StateGenerate, t)
	}
	t.Path = PathRetrieval
	return next(StateRetrieve, t)
}

func (g *Graph) moderate(ctx context.Context, t Turn) (State, error) {
	if g.deps.Moderator == nil {
		return end(t, OutcomeSuccess), nil
	}
	v, err := g.deps.Moderator.Moderate(ctx, t.Response)
	if err != nil {
		return State{}, fmt.Errorf("moderate: %w", err)
	}
	if v.Flagged {
		g.log.Warn("response replaced by moderation",
			zap.String("category", v.Category),
			zap.Float64("severity", v.Severity))
		t.BlockReason = "moderation:" + v.Category
		t.Response = ModeratedMessage(t.Language)
		t.Sources = nil
		return end(t, OutcomeBlocked), nil
	}
	return end(t, OutcomeSuccess), nil
}
