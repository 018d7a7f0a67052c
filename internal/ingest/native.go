package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fracture-labs/fracture/internal/model"
)

// FromNative parses the engine's own collection format, detecting YAML vs.
// JSON by content (JSON is a YAML subset, but native collections are
// authored as YAML by convention, matching the teacher's persistence
// package).
func FromNative(raw []byte) (model.Collection, error) {
	var coll model.Collection
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &coll); err != nil {
			return model.Collection{}, fmt.Errorf("parsing json collection: %w", err)
		}
		return coll, nil
	}
	if err := yaml.Unmarshal(raw, &coll); err != nil {
		return model.Collection{}, fmt.Errorf("parsing yaml collection: %w", err)
	}
	return coll, nil
}

// ToYAML serializes a collection back to its native YAML form.
func ToYAML(coll model.Collection) ([]byte, error) {
	return yaml.Marshal(coll)
}
