package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches {{ name }} placeholders in script bodies.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_][A-Za-z0-9_.-]*)\s*\}\}`)

// renderScript substitutes binding values into the script's
// {{ name }} placeholders. Unknown placeholders are left untouched.
func renderScript(script string, bindings Bindings) string {
	return placeholderPattern.ReplaceAllStringFunc(script, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := bindings[name]
		if !ok {
			return match
		}
		return formatValue(v)
	})
}

// formatValue renders a binding value as script text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// outputEntry is one declared output binding on a step's stdout: a JSON
// array of {"id": ..., "value": ...} objects, matching the script
// contract of the framework format.
type outputEntry struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// parseOutputs extracts declared output bindings from a step's stdout.
// Stdout that is not a JSON array declares no outputs and is not an
// error; a malformed array is.
func parseOutputs(stdout string) (Bindings, error) {
	trimmed := strings.TrimSpace(stdout)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, nil
	}

	var entries []outputEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, fmt.Errorf("malformed output bindings: %w", err)
	}

	out := make(Bindings, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		out[e.ID] = e.Value
	}
	return out, nil
}
