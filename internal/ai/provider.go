package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Provider generates an assistant reply for an ordered conversation.
// The first message may carry the system instructions.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
