package chat

// Flatten splits multi-part turns into one turn per part, preserving order.
// Downstream consumers (history listings, persistence viewers) render one
// block per row; this is a projection only and must never be written back
// into the conversation.
func Flatten(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Parts) <= 1 {
			out = append(out, Message{Role: msg.Role, Parts: cloneParts(msg.Parts)})
			continue
		}
		for _, part := range msg.Parts {
			cloned, ok := clonePart(part)
			if !ok {
				continue
			}
			out = append(out, Message{Role: msg.Role, Parts: []Part{cloned}})
		}
	}
	return out
}
