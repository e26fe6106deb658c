package conversation

import (
	"encoding/json"
	"strings"
)

const tableFence = "```json"

// tableBlock is the structured-comparison convention both backends are
// instructed to emit: a single trailing fenced json block holding the prose
// and the table side by side.
type tableBlock struct {
	Text  string `json:"text"`
	Table *Table `json:"table"`
}

// ExtractTable splits a trailing structured-table block from finalized answer
// text. It never fails: malformed JSON, a missing table field, or the absence
// of a trailing fence all yield the original text and a nil table. Inline code
// blocks elsewhere in the answer are never mistaken for the table because only
// a block that closes at the very end of the text is considered.
func ExtractTable(text string) (string, *Table) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if !strings.HasSuffix(trimmed, "```") {
		return text, nil
	}

	body := trimmed[:len(trimmed)-3]
	start := strings.LastIndex(body, tableFence)
	if start < 0 {
		return text, nil
	}

	payload := strings.TrimSpace(body[start+len(tableFence):])
	// A fence boundary inside the payload means the trailing fence closes a
	// different block than the one we found; treat as no table.
	if strings.Contains(payload, "```") {
		return text, nil
	}

	var block tableBlock
	if err := json.Unmarshal([]byte(payload), &block); err != nil || block.Table == nil {
		return text, nil
	}

	remaining := block.Text
	if remaining == "" {
		// Fall back to whatever prose preceded the block.
		remaining = strings.TrimSpace(body[:start])
	}
	return remaining, block.Table
}
