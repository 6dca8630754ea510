package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/metrics"
	"go.uber.org/zap"
)

// MaxMessageLength is the longest accepted user message, in characters.
const MaxMessageLength = 2000

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, sessionID, language string) (*chat.Session, bool, error)
	History(ctx context.Context, sessionID string, max int) ([]chat.Message, error)
	Append(ctx context.Context, sessionID string, msgs ...chat.Message) error
	SetLanguage(ctx context.Context, sessionID, language string) error
}

type Request struct {
	Message   string
	SessionID string
}

type Reply struct {
	Response  string        `json:"response"`
	SessionID string        `json:"session_id"`
	Language  string        `json:"language"`
	Sources   []chat.Source `json:"sources"`
	Outcome   Outcome       `json:"outcome"`
}

type Service struct {
	graph       *Graph
	sessions    SessionStore
	historySize int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewService(g *Graph, sessions SessionStore, historySize int, log *zap.Logger, m *metrics.Metrics) *Service {
	if historySize < 0 {
		historySize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{graph: g, sessions: sessions, historySize: historySize, log: log, metrics: m}
}

// persistTimeout bounds the final write, which runs even when the caller has
// gone away after the model already answered.
const persistTimeout = 5 * time.Second

// Ask answers one user turn and records it as exactly one user and one
// assistant message.
func (s *Service) Ask(ctx context.Context, req Request) (*Reply, error) {
	started := time.Now()

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, common.InvalidInput("ask", errors.New("message is required"))
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return nil, common.InvalidInput("ask", fmt.Errorf("message exceeds %d characters", MaxMessageLength))
	}

	sess, created, err := s.sessions.ResolveOrCreate(ctx, strings.TrimSpace(req.SessionID), s.graph.cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	var history []ai.Message
	if !created && s.historySize > 0 {
		past, err := s.sessions.History(ctx, sess.SessionID, s.historySize)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = make([]ai.Message, 0, len(past))
		for _, m := range past {
			history = append(history, ai.Message{Role: m.Role, Content: m.Content})
		}
	}

	final, err := s.graph.Run(ctx, Start(msg, sess.Language, history))
	if err != nil {
		return nil, err
	}
	t := final.Turn

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	userMeta := map[string]any{"language": t.Language}
	if len(t.PIIKinds) > 0 {
		userMeta["redacted"] = t.PIIKinds
	}
	assistantMeta := map[string]any{"outcome": string(t.Outcome)}
	if t.Path != "" {
		assistantMeta["path"] = string(t.Path)
	}
	if t.BlockReason != "" {
		assistantMeta["block_reason"] = t.BlockReason
	}
	if t.Outcome == OutcomeFailed {
		assistantMeta["failed"] = true
	}

	if err := s.sessions.Append(wctx, sess.SessionID,
		chat.Message{Role: ai.RoleUser, Content: t.Input, Metadata: userMeta},
		chat.Message{Role: ai.RoleAssistant, Content: t.Response, Sources: t.Sources, Metadata: assistantMeta},
	); err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}
	if t.Language != sess.Language {
		if err := s.sessions.SetLanguage(wctx, sess.SessionID, t.Language); err != nil {
			s.log.Warn("update session language failed", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}

	took := time.Since(started)
	s.metrics.ChatTurn(string(t.Outcome), string(t.Path), took)
	if t.Outcome == OutcomeBlocked {
		s.metrics.GuardrailBlock(t.BlockReason)
	}
	s.log.Info("chat turn",
		zap.String("session_id", sess.SessionID),
		zap.String("language", t.Language),
		zap.String("outcome", string(t.Outcome)),
		zap.String("path", string(t.Path)),
		zap.String("block_reason", t.BlockReason),
		zap.Int("sources", len(t.Sources)),
		zap.Duration("took", took))

	sources := t.Sources
	if sources == nil {
		sources = []chat.Source{}
	}
	return &Reply{
		Response:  t.Response,
		SessionID: sess.SessionID,
		Language:  t.Language,
		Sources:   sources,
		Outcome:   t.Outcome,
	}, nil
}
