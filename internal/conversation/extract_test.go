package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTableTrailingBlock(t *testing.T) {
	text := "Summary ```json\n{\"text\":\"S\",\"table\":{\"headers\":[\"H1\"],\"rows\":[[\"v1\"]]}}\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, "S", remaining)
	require.NotNil(t, table)
	assert.Equal(t, []string{"H1"}, table.Headers)
	assert.Equal(t, [][]string{{"v1"}}, table.Rows)
}

func TestExtractTableNoBlock(t *testing.T) {
	text := "Just a plain answer with no table."

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableMalformedJSON(t *testing.T) {
	text := "Answer ```json\n{\"text\": \"S\", \"table\": {broken\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableMissingTableField(t *testing.T) {
	text := "Answer ```json\n{\"text\":\"S\"}\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableEmptyTextFallsBackToProse(t *testing.T) {
	text := "Comparison below.\n```json\n{\"text\":\"\",\"table\":{\"headers\":[\"A\"],\"rows\":[]}}\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, "Comparison below.", remaining)
	require.NotNil(t, table)
	assert.Equal(t, []string{"A"}, table.Headers)
}

func TestExtractTableIgnoresInlineCodeBlocks(t *testing.T) {
	// A json code block in the middle of the answer is ordinary content.
	text := "Here is config:\n```json\n{\"text\":\"x\",\"table\":{\"headers\":[],\"rows\":[]}}\n```\nAnd more prose after."

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableTrailingNonTableFence(t *testing.T) {
	// The answer ends with a code block that is not the table convention.
	text := "Example:\n```go\nfmt.Println(1)\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableEarlierJSONBlockNotConfusedWithTrailingFence(t *testing.T) {
	// An earlier ```json block plus a different trailing block: the payload
	// between them spans a fence boundary, so no table is recognized.
	text := "```json\n{\"text\":\"x\",\"table\":{\"headers\":[],\"rows\":[]}}\n```\nmore\n```go\ncode\n```"

	remaining, table := ExtractTable(text)

	assert.Equal(t, text, remaining)
	assert.Nil(t, table)
}

func TestExtractTableTrailingWhitespaceTolerated(t *testing.T) {
	text := "Done ```json\n{\"text\":\"T\",\"table\":{\"headers\":[\"H\"],\"rows\":[[\"1\"]]}}\n```  \n\n"

	remaining, table := ExtractTable(text)

	assert.Equal(t, "T", remaining)
	require.NotNil(t, table)
}
