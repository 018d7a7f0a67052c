// Package model defines the tree-shaped collection format the engine executes:
// a Collection of Folders and Requests annotated with scripts, auth, conditions,
// dependsOn edges, and iteration data.
package model

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Collection is the root input to a run.
type Collection struct {
	Info                  Info            `json:"info" yaml:"info" validate:"required"`
	Protocol               string          `json:"protocol" yaml:"protocol" validate:"required"`
	Auth                   *Auth           `json:"auth,omitempty" yaml:"auth,omitempty"`
	TestData                []map[string]any `json:"testData,omitempty" yaml:"testData,omitempty"`
	PreScript               string          `json:"preScript,omitempty" yaml:"preScript,omitempty"`
	PostScript              string          `json:"postScript,omitempty" yaml:"postScript,omitempty"`
	PreRequestScript        string          `json:"preRequestScript,omitempty" yaml:"preRequestScript,omitempty"`
	PostRequestScript       string          `json:"postRequestScript,omitempty" yaml:"postRequestScript,omitempty"`
	Items                   []Item          `json:"items" yaml:"items"`
}

// Info carries collection identity and the Fracture schema version it was
// authored against (SemVer, validated in internal/engine.CollectionValidator).
type Info struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Name    string `json:"name" yaml:"name" validate:"required"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Item is either a Folder or a Request. Exactly one of Folder/Request is set.
// This mirrors the Postman collection format's recursive Items[] shape, which
// is why the collection loader (internal/ingest) can translate directly
// between the two without an intermediate representation.
type Item struct {
	Folder  *Folder  `json:"-" yaml:"-"`
	Request *Request `json:"-" yaml:"-"`
}

// IsFolder reports whether this item groups other items.
func (i Item) IsFolder() bool { return i.Folder != nil }

// MarshalJSON flattens Item to whichever of Folder/Request is set.
func (i Item) MarshalJSON() ([]byte, error) {
	if i.Folder != nil {
		return json.Marshal(i.Folder)
	}
	return json.Marshal(i.Request)
}

// UnmarshalJSON disambiguates a Folder from a Request by the presence of an
// "items" key, matching the Postman collection convention.
func (i *Item) UnmarshalJSON(data []byte) error {
	var probe struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Items != nil {
		var f Folder
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		i.Folder = &f
		return nil
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	i.Request = &r
	return nil
}

// MarshalYAML flattens Item the same way MarshalJSON does.
func (i Item) MarshalYAML() (any, error) {
	if i.Folder != nil {
		return i.Folder, nil
	}
	return i.Request, nil
}

// UnmarshalYAML disambiguates a Folder from a Request by the presence of an
// "items" key, mirroring UnmarshalJSON.
func (i *Item) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		Items yaml.Node `yaml:"items"`
	}
	if err := value.Decode(&probe); err != nil {
		return err
	}
	if probe.Items.Kind != 0 {
		var f Folder
		if err := value.Decode(&f); err != nil {
			return err
		}
		i.Folder = &f
		return nil
	}
	var r Request
	if err := value.Decode(&r); err != nil {
		return err
	}
	i.Request = &r
	return nil
}

// Folder groups child items and may itself carry scripts, auth, and
// condition/dependsOn metadata.
type Folder struct {
	ID                string   `json:"id" yaml:"id" validate:"required"`
	Name              string   `json:"name" yaml:"name"`
	Condition         string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Auth              *Auth    `json:"auth,omitempty" yaml:"auth,omitempty"`
	DependsOn         []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	PreScript         string   `json:"preScript,omitempty" yaml:"preScript,omitempty"`
	PostScript        string   `json:"postScript,omitempty" yaml:"postScript,omitempty"`
	PreRequestScript  string   `json:"preRequestScript,omitempty" yaml:"preRequestScript,omitempty"`
	PostRequestScript string   `json:"postRequestScript,omitempty" yaml:"postRequestScript,omitempty"`
	Items             []Item   `json:"items" yaml:"items"`
}

// Request is a leaf item describing one protocol call.
type Request struct {
	ID                 string         `json:"id" yaml:"id" validate:"required"`
	Name               string         `json:"name" yaml:"name"`
	Condition          string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Auth               *Auth          `json:"auth,omitempty" yaml:"auth,omitempty"`
	DependsOn          []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	PreRequestScript   string         `json:"preRequestScript,omitempty" yaml:"preRequestScript,omitempty"`
	PostRequestScript  string         `json:"postRequestScript,omitempty" yaml:"postRequestScript,omitempty"`
	Data               RequestData    `json:"data" yaml:"data"`
}

// RequestData is the protocol-specific payload; Method/URL/Headers/Body are
// the common HTTP-shaped fields, Extra carries anything protocol-specific
// (GraphQL query, gRPC method, ...).
type RequestData struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any               `json:"body,omitempty" yaml:"body,omitempty"`
	Scripts []EventScript     `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Extra   map[string]any    `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// EventScript binds a user script to a protocol-emitted event name
// (e.g. onMessage, onComplete).
type EventScript struct {
	Event  string `json:"event" yaml:"event"`
	Script string `json:"script" yaml:"script"`
}

// Auth expresses credential intent: "inherit" walks up to the nearest
// non-inherit ancestor, "none" disables auth, anything else names an
// AuthPlugin id.
type Auth struct {
	Type string         `json:"type" yaml:"type" validate:"required"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

const (
	AuthInherit = "inherit"
	AuthNone    = "none"
)

// Clone returns a shallow copy suitable for per-invocation request mutation
// by the script API (spec.md: "Mutable only via the script API on a
// per-invocation shallow copy").
func (r Request) Clone() Request {
	clone := r
	if r.Data.Headers != nil {
		clone.Data.Headers = make(map[string]string, len(r.Data.Headers))
		for k, v := range r.Data.Headers {
			clone.Data.Headers[k] = v
		}
	}
	if r.Data.Scripts != nil {
		clone.Data.Scripts = append([]EventScript(nil), r.Data.Scripts...)
	}
	return clone
}
