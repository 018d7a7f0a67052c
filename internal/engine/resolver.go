package engine

import (
	"context"
	"reflect"
	"regexp"
	"sync"
)

// VarMap is a thread-safe string-keyed variable bag. Every variable tier
// (global, collection, environment, scope frame) shares this type so the
// resolution cascade in ValueResolver can treat them uniformly.
type VarMap struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewVarMap builds a VarMap seeded from initial, copying it so later
// mutation of the caller's map never leaks in.
func NewVarMap(initial map[string]any) *VarMap {
	vm := &VarMap{vars: make(map[string]any, len(initial))}
	for k, v := range initial {
		vm.vars[k] = v
	}
	return vm
}

// Get returns the value for name and whether it was present.
func (vm *VarMap) Get(name string) (any, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	v, ok := vm.vars[name]
	return v, ok
}

// Set stores a value, overwriting any existing one.
func (vm *VarMap) Set(name string, value any) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.vars[name] = value
}

// Unset removes a key.
func (vm *VarMap) Unset(name string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.vars, name)
}

// Has reports whether name is set.
func (vm *VarMap) Has(name string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	_, ok := vm.vars[name]
	return ok
}

// All returns a copy of the full variable set.
func (vm *VarMap) All() map[string]any {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make(map[string]any, len(vm.vars))
	for k, v := range vm.vars {
		out[k] = v
	}
	return out
}

// Clear empties the map.
func (vm *VarMap) Clear() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.vars = make(map[string]any)
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// ValueResolver expands {{name}} placeholders following the cascade:
// iteration row -> scope frames (innermost first) -> collection variables ->
// environment variables -> global variables. A placeholder with no match in
// any tier is left verbatim in the output.
type ValueResolver struct {
	ctx *ExecutionContext
}

// NewValueResolver builds a resolver bound to one ExecutionContext.
func NewValueResolver(ctx *ExecutionContext) *ValueResolver {
	return &ValueResolver{ctx: ctx}
}

// Lookup runs the cascade for a single variable name.
func (r *ValueResolver) Lookup(name string) (any, bool) {
	if r.ctx.IterationData != nil && r.ctx.IterationCurrent < len(r.ctx.IterationData) {
		row := r.ctx.IterationData[r.ctx.IterationCurrent]
		if v, ok := row[name]; ok {
			return v, true
		}
	}
	for _, frame := range r.ctx.ScopeFrames() {
		if v, ok := frame.Vars[name]; ok {
			return v, true
		}
	}
	if v, ok := r.ctx.CollectionVariables.Get(name); ok {
		return v, true
	}
	if r.ctx.Environment.Vars != nil {
		if v, ok := r.ctx.Environment.Vars.Get(name); ok {
			return v, true
		}
	}
	if v, ok := r.ctx.GlobalVariables.Get(name); ok {
		return v, true
	}
	if v, ok := r.lookupProviders(name); ok {
		return v, true
	}
	return nil, false
}

// lookupProviders tries every registered ValueProvider (file vault,
// environment, ...) configured under RuntimeOptions.plugins, keyed by
// provider id, as the last-resort cascade tier.
func (r *ValueResolver) lookupProviders(name string) (any, bool) {
	for id, provider := range r.ctx.ValueProviders {
		config := r.ctx.Options.Plugins[id]
		v, err := provider.GetValue(name, config, r.ctx)
		if err == nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

// ResolveString expands every {{name}} occurrence in s.
func (r *ValueResolver) ResolveString(s string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := r.Lookup(name)
		if !ok {
			return match
		}
		return stringifyVar(v)
	})
}

// ResolveAll recurses into maps/slices, expanding every string leaf and
// preserving object/array shape otherwise.
func (r *ValueResolver) ResolveAll(v any) any {
	switch val := v.(type) {
	case string:
		return r.ResolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = r.ResolveAll(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = r.ResolveAll(vv)
		}
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			for _, k := range rv.MapKeys() {
				out[k.String()] = r.ResolveAll(rv.MapIndex(k).Interface())
			}
			return out
		}
		return v
	}
}

func stringifyVar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return toDisplayString(s)
	}
}

// RuntimeOptions is the run configuration object (spec.md §6): everything a
// CollectionRunner needs that is not itself part of the collection tree.
type RuntimeOptions struct {
	GlobalVariables map[string]any
	Environment     EnvironmentOptions
	Data            []map[string]any
	Iterations      int
	StrictMode      *bool // nil means default true; resolved via Strict()

	Signal  context.Context
	Timeout TimeoutOptions
	SSL     SSLOptions
	Proxy   ProxyOptions

	FollowRedirects bool
	MaxRedirects    int

	Execution ExecutionOptions
	Plugins   map[string]map[string]any
}

// EnvironmentOptions names the selected environment and its variable set.
type EnvironmentOptions struct {
	Name string
	Vars map[string]any
}

// TimeoutOptions carries protocol-call timeouts.
type TimeoutOptions struct {
	RequestMs int
}

// SSLOptions controls TLS verification behavior for protocol plugins.
type SSLOptions struct {
	RejectUnauthorized bool
	CAFile             string
	CertFile           string
	KeyFile            string
}

// ProxyOptions names an upstream proxy, if any, for protocol plugins that
// support one.
type ProxyOptions struct {
	URL     string
	NoProxy []string
}

// ExecutionOptions controls the scheduler's DAG-draining behavior.
type ExecutionOptions struct {
	AllowParallel  bool
	MaxConcurrency int
	Bail           bool
}

// Strict returns the effective strictMode, defaulting to true when unset
// (spec.md: "strictMode default true").
func (o RuntimeOptions) Strict() bool {
	if o.StrictMode == nil {
		return true
	}
	return *o.StrictMode
}
