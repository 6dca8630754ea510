package chat

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/keylock"
)

// Store owns conversation history. Reads and writes on one session are
// serialized; different sessions never wait on each other.
type Store struct {
	repo              *Repo
	locks             keylock.Map
	contextWindowSize int
	now               func() time.Time
}

func NewStore(repo *Repo, contextWindowSize int) *Store {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Store{
		repo:              repo,
		contextWindowSize: contextWindowSize,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// ResolveOrCreate returns the session for sessionID. An empty or unknown id
// starts a new session with a fresh id; created reports which happened.
func (s *Store) ResolveOrCreate(ctx context.Context, sessionID, language string) (*Session, bool, error) {
	if sessionID != "" {
		sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
		if err == nil {
			return sess, false, nil
		}
		if !common.IsKind(err, common.KindNotFound) {
			return nil, false, err
		}
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	sess := &Session{
		SessionID:      sid,
		Language:       language,
		LastActivityAt: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Append adds msgs to the session in order as one write.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if m.Role == "" {
			return errors.New("append: message role is required")
		}
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.repo.AppendMessages(ctx, sessionID, msgs, s.now())
}

// History returns up to max recent messages, oldest first, so the newest
// message is last.
func (s *Store) History(ctx context.Context, sessionID string, max int) ([]Message, error) {
	if max <= 0 {
		return []Message{}, nil
	}
	if max > s.contextWindowSize {
		max = s.contextWindowSize
	}
	unlock := s.locks.Lock(sessionID)
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, max)
	unlock()
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	out := make([]Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		out = append(out, recentDesc[i])
	}
	return out, nil
}

func (s *Store) SetLanguage(ctx context.Context, sessionID, language string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.repo.UpdateLanguage(ctx, sessionID, language)
}

// Delete removes a session and all of its messages. An unknown id is
// NotFound.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.repo.DeleteSession(ctx, sessionID)
}

// Messages pages through a session newest first. beforeID of 0 starts at the
// latest message.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}
