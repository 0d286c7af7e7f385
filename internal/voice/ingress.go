package voice

// ExtractConversationID finds the provider conversation id in a webhook body.
// Locations are probed in order and the first non-empty value wins.
func ExtractConversationID(payload Fields) string {
	if id := payload.Object("data").Get("conversation_id"); id != "" {
		return id
	}
	return payload.First("conversation_id", "conversationId", "id")
}
