package ocr

import (
	"fmt"
	"strings"
)

// Fields is the decoded words_result mapping returned by the provider.
// Values are heterogeneous: a scalar, a list of scalars, or a list of
// objects each carrying a "word" member. All reads go through Scalar and
// List so no other code ever branches on the raw shape.
type Fields map[string]any

// Scalar returns the text value for a field: the first element if the field
// is a list, the "word" member if it is an object, the value itself if it is
// already a scalar. Missing keys and empty lists return "".
func (f Fields) Scalar(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		v = list[0]
	}
	return strings.TrimSpace(wordOf(v))
}

// List returns one text value per detected line item. A missing field yields
// nil; a present-but-scalar field yields a single-element slice.
func (f Fields) List(key string) []string {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return []string{wordOf(v)}
	}
	out := make([]string, 0, len(list))
	for _, el := range list {
		out = append(out, wordOf(el))
	}
	return out
}

// wordOf reduces a single element to its text: objects contribute their
// "word" member, strings pass through, anything else is stringified.
func wordOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if w, ok := t["word"]; ok {
			return wordOf(w)
		}
		return ""
	case float64:
		// JSON numbers decode as float64; keep integral values clean.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
