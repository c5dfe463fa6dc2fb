package chat

// History is an ordered snapshot of a session log. It is a private copy;
// changing it never affects the store.
type History []Message

// Last returns the newest message, if any.
func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}

// Context converts the history into model input, dropping timestamps.
func (h History) Context() []ContextMessage {
	out := make([]ContextMessage, 0, len(h))
	for _, msg := range h {
		out = append(out, ContextMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
