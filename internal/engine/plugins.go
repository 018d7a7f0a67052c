package engine

import "github.com/fracture-labs/fracture/internal/model"

// ProtocolPlugin is the out-of-scope collaborator that performs the actual
// wire I/O for one protocol (HTTP, GraphQL, SSE, WebSocket, gRPC, ...).
// Only the interface is specified (spec.md §1/§6); internal/plugins/httpproto
// provides the one concrete implementation this repo ships.
type ProtocolPlugin interface {
	Protocols() []string
	Name() string
	Version() string
	SupportedAuthTypes() []string
	StrictAuthList() bool
	Events() []EventDef
	// ProtocolAPIProvider, if non-nil, returns an object exposed to scripts
	// as quest.request/quest.response.
	ProtocolAPIProvider(ctx *ExecutionContext) any

	Validate(req model.Request, opts RuntimeOptions) ValidationResult
	Execute(req model.Request, ctx *ExecutionContext, opts RuntimeOptions, emit EmitEventFunc) (*ProtocolResponse, error)
}

// EventDef describes one protocol-emitted signal a request may fire during
// execution (e.g. onMessage, onComplete).
type EventDef struct {
	Name          string
	CanHaveTests  bool
	Required      bool
	Description   string
}

// EmitEventFunc is the callback a ProtocolPlugin invokes synchronously for
// each event it fires; it blocks until the scheduler has run the
// corresponding user script (if any) through the script queue.
type EmitEventFunc func(eventName string, payload map[string]any) error

// ProtocolResponse is the structured result of one ProtocolPlugin.Execute
// call (spec.md §9 Open Question: adopt the structured shape, adapt legacy
// flat plugins at the boundary).
type ProtocolResponse struct {
	Data    map[string]any
	Summary ResponseSummary

	// Flat legacy fields, populated by the adapter in plugins.AdaptLegacy
	// for plugins that only speak the old {status,statusText,headers,...}
	// shape; httpproto populates both Data/Summary and these directly.
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       string
	DurationMs int64
	Error      string
}

// ResponseSummary is the structured outcome of a protocol call.
type ResponseSummary struct {
	Outcome    string // "success" | "failure" | "aborted"
	Code       int
	Label      string
	Message    string
	DurationMs int64
}

// AuthPlugin applies a named auth scheme's credentials to a request.
type AuthPlugin interface {
	AuthTypes() []string
	Protocols() []string
	Name() string
	Version() string

	Validate(auth model.Auth, opts RuntimeOptions) ValidationResult
	Apply(req model.Request, auth model.Auth, opts RuntimeOptions) (model.Request, error)
}

// ValueProvider resolves a named value from an external source (file vault,
// environment, ...).
type ValueProvider interface {
	Provider() string
	Validate(config map[string]any) ValidationResult
	GetValue(key string, config map[string]any, ctx *ExecutionContext) (string, error)
}

// ValidationResult is the outcome of a plugin's static validate() call.
type ValidationResult struct {
	Valid  bool
	Errors []string
}
