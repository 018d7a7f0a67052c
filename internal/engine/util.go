package engine

import (
	"encoding/json"
	"fmt"
)

// toDisplayString renders a resolved variable value for interpolation into a
// string template: scalars print plainly, everything else falls back to JSON
// so objects/arrays round-trip predictably instead of Go's %v syntax leaking.
func toDisplayString(v any) string {
	switch t := v.(type) {
	case fmt.Stringer:
		return t.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
