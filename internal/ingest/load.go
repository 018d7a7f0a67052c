package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fracture-labs/fracture/internal/model"
)

// LoadCollection picks the right format parser by filename convention and
// content sniffing: Postman exports are named *postman_collection.json*,
// OpenAPI/Swagger documents declare an "openapi" or "swagger" key, and
// anything else is assumed to be Fracture's own native format.
func LoadCollection(path string, raw []byte) (model.Collection, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "postman"):
		return FromPostman(raw)
	case looksLikeOpenAPI(raw):
		return FromOpenAPI(raw)
	default:
		return FromNative(raw)
	}
}

func looksLikeOpenAPI(raw []byte) bool {
	var probe struct {
		OpenAPI string `json:"openapi" yaml:"openapi"`
		Swagger string `json:"swagger" yaml:"swagger"`
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &probe); err != nil {
			return false
		}
	} else if err := yaml.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.OpenAPI != "" || probe.Swagger != ""
}

// LoadIterationData parses a JSON or YAML file holding an array of row
// objects, for data-driven runs (spec.md §6 RuntimeOptions.data).
func LoadIterationData(raw []byte) ([]map[string]any, error) {
	var rows []map[string]any
	trimmed := strings.TrimSpace(string(raw))
	var err error
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal(raw, &rows)
	} else {
		err = yaml.Unmarshal(raw, &rows)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing iteration data: %w", err)
	}
	return rows, nil
}
