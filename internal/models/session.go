package models

import "time"

// State is the position of a conversation in the turn state machine.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateReady      State = "ready"
	StateAnswered   State = "answered"
	StateRefining   State = "refining"
)

// PendingChoice is an unresolved ambiguity the user has been asked about.
type PendingChoice struct {
	Parameter  string      `json:"parameter"`
	Type       ParamType   `json:"type"`
	Mention    string      `json:"mention"`
	Candidates []Candidate `json:"candidates"`
}

// ResultSummary is what the session remembers about the last answer.
type ResultSummary struct {
	TemplateID string       `json:"templateId"`
	Params     ParameterSet `json:"params"`
	Columns    []string     `json:"columns"`
	Rows       []Row        `json:"rows"`
	TotalRows  int          `json:"totalRows"`
	AnsweredAt time.Time    `json:"answeredAt"`
}

// Session is the per-conversation state. It is owned by one conversation
// and mutated by one turn at a time.
type Session struct {
	ConversationID string         `json:"conversationId"`
	State          State          `json:"state"`
	TemplateID     string         `json:"templateId,omitempty"`
	Params         ParameterSet   `json:"params,omitempty"`
	Pending        *PendingChoice `json:"pending,omitempty"`
	LastResult     *ResultSummary `json:"lastResult,omitempty"`
	Turn           int            `json:"turn"`
	Attempts       int            `json:"attempts"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// NewSession returns an idle session for conversationID.
func NewSession(conversationID string, now time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		State:          StateIdle,
		Params:         make(ParameterSet),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Reset returns the session to Idle, forgetting everything but its identity.
func (s *Session) Reset() {
	s.State = StateIdle
	s.TemplateID = ""
	s.Params = make(ParameterSet)
	s.Pending = nil
	s.LastResult = nil
	s.Attempts = 0
}

// IsExpired reports whether the session has been idle longer than timeout.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.UpdatedAt) > timeout
}
