package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one entry of a session log. Timestamp is assigned by the store.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextMessage is the role/content pair handed to the model.
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks the fields a caller must supply before appending.
func (m Message) Validate() error {
	if m.Role == "" {
		return &ValidationError{Field: "role", Reason: "is required"}
	}
	if !m.Role.Valid() {
		return &ValidationError{Field: "role", Reason: "must be one of user, assistant, system"}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	return nil
}
