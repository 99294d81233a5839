package perception

import "strings"

// StripJSONFences removes markdown code-fence wrappers some backends put
// around JSON output. Handles ```json ... ``` and bare ``` ... ``` fences;
// unfenced input passes through unchanged.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
