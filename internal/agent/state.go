// Package agent answers chat turns by running each message through a small
// state machine: language detection, screening, routing, optional
// retrieval, generation and output moderation.
package agent

import (
	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/knowledge"
)

type StateKind string

const (
	StateStart          StateKind = "start"
	StateDetectLanguage StateKind = "detect_language"
	StateScreen         StateKind = "screen"
	StateRoute          StateKind = "route"
	StateRetrieve       StateKind = "retrieve"
	StateGenerate       StateKind = "generate"
	StateGuardrail      StateKind = "guardrail"
	StateEnd            StateKind = "end"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
)

type Path string

const (
	PathSimple    Path = "simple"
	PathRetrieval Path = "retrieval"
)

const (
	ReasonInjection = "prompt_injection"
	ReasonOffTopic  = "off_topic"
)

// Turn is the payload carried from state to state.
type Turn struct {
	// Input is the user message. Start replaces it with its redacted form.
	Input    string
	PIIKinds []string

	SessionLanguage string
	History         []ai.Message

	Language string
	Path     Path

	Hits []knowledge.Hit
	// SearchLanguage is the corpus language the hits came from.
	SearchLanguage string

	Response    string
	Sources     []chat.Source
	Outcome     Outcome
	BlockReason string
	Err         error

	Trace []StateKind
}

// State is one node of the graph together with its payload. Outcome is only
// meaningful once Kind is StateEnd.
type State struct {
	Kind StateKind
	Turn Turn
}

func (s State) Done() bool { return s.Kind == StateEnd }

// Visited reports whether the run passed through kind.
func (t Turn) Visited(kind StateKind) bool {
	for _, k := range t.Trace {
		if k == kind {
			return true
		}
	}
	return false
}

func next(kind StateKind, t Turn) State {
	return State{Kind: kind, Turn: t}
}

func end(t Turn, outcome Outcome) State {
	t.Outcome = outcome
	return State{Kind: StateEnd, Turn: t}
}
