package claude

// ResultSets scans a conversation and returns the set of tool_use ids that
// received any tool_result (answered) and the subset whose result was not an
// error (succeeded).
func ResultSets(messages []Message) (answered, succeeded map[string]bool) {
	answered = make(map[string]bool)
	succeeded = make(map[string]bool)

	for _, msg := range messages {
		for _, block := range msg.Content.Blocks {
			if block.Type != BlockTypeToolResult || block.ToolUseID == "" {
				continue
			}

			answered[block.ToolUseID] = true

			if !block.IsError {
				succeeded[block.ToolUseID] = true
			}
		}
	}

	return answered, succeeded
}

// Reconcile removes messages whose content carries a tool_use with no
// tool_result anywhere in the conversation. A dangling call would make the
// provider payload invalid, so the whole message goes, sibling text
// included; surgically stripping one block risks breaking call/response
// adjacency for providers that enforce it.
//
// Reconcile is pure and idempotent: the surviving messages are returned in
// order and the input slice is never mutated.
func Reconcile(messages []Message) []Message {
	answered, _ := ResultSets(messages)

	kept := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if hasUnansweredToolUse(msg, answered) {
			continue
		}

		kept = append(kept, msg)
	}

	return kept
}

func hasUnansweredToolUse(msg Message, answered map[string]bool) bool {
	for _, block := range msg.Content.Blocks {
		if block.Type == BlockTypeToolUse && !answered[block.ID] {
			return true
		}
	}

	return false
}
