package domain

import "time"

// Message is one role-tagged conversation turn.
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	UserTurn       int       `json:"user_turn,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation tracks per-conversation turn counters used by the summary
// worker to decide when a new summary is due.
type Conversation struct {
	UserID             string
	ConversationID     string
	CurrentUserTurn    int
	LastSummaryEndTurn int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ConversationSummary is a condensed record of a turn range, generated
// asynchronously and fed back into later turns as long-term memory.
type ConversationSummary struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	TurnFrom       int       `json:"turn_from"`
	TurnTo         int       `json:"turn_to"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationState is the graph's working memory for a single turn. It is
// created fresh per turn with well-defined zero values (empty slices, not
// absent fields) and discarded when the turn completes.
type ConversationState struct {
	Messages            []Message
	Question            string
	Documents           []Document
	RerankedDocuments   []Document
	CompressedDocuments []Document
	SubQueries          []string
	Summaries           []string
	Generation          string
	IsSummaryEnough     bool
}

// StateDelta is the partial view a graph step writes back. Nil fields leave
// the running state untouched; Messages are appended, every other field is
// last-writer-wins.
type StateDelta struct {
	Messages            []Message
	Documents           []Document
	RerankedDocuments   []Document
	CompressedDocuments []Document
	SubQueries          []string
	Summaries           []string
	Generation          *string
	IsSummaryEnough     *bool
}

// Apply merges a delta into a copy of the state and returns the new value.
// The input state is never aliased by the result's slices beyond reads.
func (s ConversationState) Apply(d StateDelta) ConversationState {
	out := s
	if len(d.Messages) > 0 {
		out.Messages = append(append([]Message(nil), s.Messages...), d.Messages...)
	}
	if d.Documents != nil {
		out.Documents = d.Documents
	}
	if d.RerankedDocuments != nil {
		out.RerankedDocuments = d.RerankedDocuments
	}
	if d.CompressedDocuments != nil {
		out.CompressedDocuments = d.CompressedDocuments
	}
	if d.SubQueries != nil {
		out.SubQueries = d.SubQueries
	}
	if d.Summaries != nil {
		out.Summaries = d.Summaries
	}
	if d.Generation != nil {
		out.Generation = *d.Generation
	}
	if d.IsSummaryEnough != nil {
		out.IsSummaryEnough = *d.IsSummaryEnough
	}
	return out
}

// NewConversationState builds the per-turn state with empty, non-nil
// sequences so steps can never observe a missing field.
func NewConversationState(question string, history []Message, summaries []string) ConversationState {
	if history == nil {
		history = []Message{}
	}
	if summaries == nil {
		summaries = []string{}
	}
	return ConversationState{
		Messages:            history,
		Question:            question,
		Documents:           []Document{},
		RerankedDocuments:   []Document{},
		CompressedDocuments: []Document{},
		SubQueries:          []string{},
		Summaries:           summaries,
	}
}

// ClientView is the read-only projection of ConversationState streamed to
// the client alongside content chunks.
type ClientView struct {
	Sources []string `json:"sources"`
}

// View projects the externally observable snapshot of the current state:
// origins of the most specific document set populated so far. Snapshots may
// predate later steps, so earlier sets stand in until a narrower one exists.
func (s ConversationState) View() ClientView {
	docs := s.CompressedDocuments
	if len(docs) == 0 {
		docs = s.RerankedDocuments
	}
	if len(docs) == 0 {
		docs = s.Documents
	}
	return ClientView{Sources: SourcesOf(docs)}
}

// SourcesOf returns the deduplicated origin locators of docs, in order.
func SourcesOf(docs []Document) []string {
	sources := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		src := doc.Source()
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}

// TurnVerdict is the post-hoc quality gate attached to a completed turn.
// It never triggers an automatic retry; retry policy belongs to the caller.
type TurnVerdict struct {
	Grounded        string `json:"grounded"`
	AnswersQuestion string `json:"answers_question"`
}

// TurnResult is the non-streaming response of one conversation turn.
type TurnResult struct {
	ConversationID string      `json:"conversation_id"`
	Answer         string      `json:"answer"`
	Route          string      `json:"route"`
	Sources        []string    `json:"sources"`
	Verdict        TurnVerdict `json:"verdict"`
}

// StreamChunk is one emitted piece of a streamed turn: a content fragment
// (possibly several model fragments buffered together) paired with the
// latest known state snapshot.
type StreamChunk struct {
	Content string     `json:"content"`
	State   ClientView `json:"state"`
}
