package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseTableJSON parses the model's JSON response into a Table. Even with a
// structured-output contract some models wrap the JSON in markdown code
// blocks or leading prose, so the parser trims down to the outermost array
// before unmarshaling.
func parseTableJSON(text string) (Table, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON array boundaries - look for first [ and last ]
	startIdx := strings.Index(text, "[")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	endIdx := strings.LastIndex(text, "]")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON array in response")
	}

	text = text[startIdx : endIdx+1]

	var rows [][]string
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	// Nil rows render and export as zero cells; normalize them away so
	// downstream code can range without nil checks
	for i, row := range rows {
		if row == nil {
			rows[i] = []string{}
		}
	}

	if len(rows) == 0 {
		return nil, ErrEmptyResult
	}

	return Table(rows), nil
}
