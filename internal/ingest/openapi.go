package ingest

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pb33f/libopenapi"

	"github.com/fracture-labs/fracture/internal/model"
)

// FromOpenAPI converts an OpenAPI 3.x document into a flat one-folder-per-tag
// model.Collection, one request per operation. Request bodies, auth, and
// script slots are left for the caller to enrich; this is a structural
// import only.
func FromOpenAPI(raw []byte) (model.Collection, error) {
	doc, err := libopenapi.NewDocument(raw)
	if err != nil {
		return model.Collection{}, fmt.Errorf("parsing openapi document: %w", err)
	}
	model3, errs := doc.BuildV3Model()
	if len(errs) > 0 {
		return model.Collection{}, fmt.Errorf("building openapi v3 model: %w", errs[0])
	}

	out := model.Collection{
		Protocol: "http",
		Info: model.Info{
			ID:      uuid.NewString(),
			Name:    model3.Model.Info.Title,
			Version: model3.Model.Info.Version,
		},
	}

	folders := map[string]*model.Folder{}
	var order []string

	for pathPair := model3.Model.Paths.PathItems.Oldest(); pathPair != nil; pathPair = pathPair.Next() {
		path, item := pathPair.Key, pathPair.Value
		for opPair := item.GetOperations().Oldest(); opPair != nil; opPair = opPair.Next() {
			method, op := opPair.Key, opPair.Value
			tag := "default"
			if len(op.Tags) > 0 {
				tag = op.Tags[0]
			}
			f, ok := folders[tag]
			if !ok {
				f = &model.Folder{ID: uuid.NewString(), Name: tag}
				folders[tag] = f
				order = append(order, tag)
			}
			f.Items = append(f.Items, model.Item{Request: &model.Request{
				ID:   uuid.NewString(),
				Name: operationName(op.OperationId, method, path),
				Data: model.RequestData{
					URL:    "{{baseUrl}}" + path,
					Method: method,
				},
			}})
		}
	}

	for _, tag := range order {
		out.Items = append(out.Items, model.Item{Folder: folders[tag]})
	}
	return out, nil
}

func operationName(operationID, method, path string) string {
	if operationID != "" {
		return operationID
	}
	return method + " " + path
}
