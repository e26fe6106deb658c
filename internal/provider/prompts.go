package provider

// Both backends receive the same answer conventions so downstream processing
// (table extraction, citation display) behaves identically regardless of
// which backend produced the text.

const baseInstructions = `You are a conversational search assistant. Answer concisely in markdown.
When the user asks to compare options, append exactly one fenced code block at
the very end of your answer, tagged json, containing an object of the shape
{"text": "<your prose answer>", "table": {"headers": [...], "rows": [[...], ...]}}.
Never emit more than one such block and never place it anywhere but the end.`

const deepInstructions = `
Research the question thoroughly across multiple independent web sources before
answering. Prefer primary sources, reconcile disagreements explicitly, and cite
every claim that depends on retrieved content.`

// answerInstructions returns the system instruction for a conversation.
func answerInstructions(deep bool) string {
	if deep {
		return baseInstructions + deepInstructions
	}
	return baseInstructions
}
