package agent

// FilterTranscript reduces a raw message sequence to the durable subset:
// user messages and final assistant responses. Tool results and assistant
// messages with pending tool calls are regenerated by the capability on
// every turn, so persisting them would grow history without bound and leak
// orchestration detail into stored conversations.
//
// The function is pure and idempotent. An input containing only tool
// traffic yields an empty (non-nil) result.
func FilterTranscript(msgs []Message) []Message {
	filtered := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			filtered = append(filtered, m)
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				filtered = append(filtered, m)
			}
		case RoleTool:
			// never persisted
		}
	}
	return filtered
}
