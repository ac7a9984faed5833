package types

// Message is a single conversation turn in the provider-agnostic shape.
// Provider adapters translate these into their vendor's wire format.
type Message struct {
	Role    string `json:"role"` // "system"|"user"|"assistant"|"tool"
	Content string `json:"content"`
}

// SystemMessage returns the first message with role "system", if any.
func SystemMessage(msgs []Message) (Message, bool) {
	for _, m := range msgs {
		if m.Role == "system" {
			return m, true
		}
	}
	return Message{}, false
}
