// Package ingest converts external collection formats (Postman v2.1,
// OpenAPI 3.x, and this engine's own native YAML/JSON) into model.Collection,
// grounded on the teacher's spec_ingester parsers.
package ingest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rbretecher/go-postman-collection"

	"github.com/fracture-labs/fracture/internal/model"
)

// FromPostman converts a Postman Collection v2.1 document into the engine's
// native model. Folder/request ids are synthesized (Postman has no stable
// item id), and dependsOn/condition fields are left empty since Postman has
// no equivalent.
func FromPostman(raw []byte) (model.Collection, error) {
	coll, err := postman.ParseCollection(strings.NewReader(string(raw)))
	if err != nil {
		return model.Collection{}, fmt.Errorf("parsing postman collection: %w", err)
	}

	out := model.Collection{
		Protocol: "http",
		Info: model.Info{
			ID:   uuid.NewString(),
			Name: coll.Info.Name,
		},
	}
	out.Items = convertPostmanItems(coll.Items)
	return out, nil
}

func convertPostmanItems(items []*postman.Items) []model.Item {
	var out []model.Item
	for _, item := range items {
		if item.IsGroup() {
			out = append(out, model.Item{Folder: &model.Folder{
				ID:    uuid.NewString(),
				Name:  item.Name,
				Items: convertPostmanItems(item.Items),
			}})
			continue
		}
		if item.Request == nil {
			continue
		}
		out = append(out, model.Item{Request: convertPostmanRequest(item)})
	}
	return out
}

func convertPostmanRequest(item *postman.Items) *model.Request {
	req := item.Request
	r := &model.Request{
		ID:   uuid.NewString(),
		Name: item.Name,
		Data: model.RequestData{
			Method:  string(req.Method),
			Headers: map[string]string{},
		},
	}
	if req.URL != nil {
		r.Data.URL = req.URL.Raw
	}
	for _, h := range req.Header {
		r.Data.Headers[h.Key] = h.Value
	}
	if req.Body != nil && req.Body.Raw != "" {
		r.Data.Body = map[string]any{"mode": "raw", "raw": req.Body.Raw}
	}
	return r
}
