package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message written by the patient.
	RoleUser Role = "user"
	// RoleAI marks a message produced by the model.
	RoleAI Role = "ai"
)

// ChatMessage is one turn in a patient conversation. Append-only; ordering
// is insertion order.
type ChatMessage struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// ChatReply is one model answer: the reply text plus follow-up questions the
// patient can tap instead of typing.
type ChatReply struct {
	Content     string   `json:"content"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Patient holds per-patient state. Lives only in process memory; destroyed
// on restart.
type Patient struct {
	ID                string        `json:"id"`
	Info              string        `json:"info"`
	Title             string        `json:"title"`
	HTMLDescription   string        `json:"htmlDescription"`
	Chat              []ChatMessage `json:"chat"`
	PreferredLanguage string        `json:"preferredLanguage"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot mutate stored chat history.
func (p *Patient) Clone() *Patient {
	cp := *p
	cp.Chat = make([]ChatMessage, len(p.Chat))
	copy(cp.Chat, p.Chat)
	return &cp
}
