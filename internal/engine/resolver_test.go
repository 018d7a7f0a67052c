package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fracture-labs/fracture/internal/model"
)

func TestValueResolverCascadeOrder(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{
		GlobalVariables: map[string]any{"name": "global"},
		Environment:     EnvironmentOptions{Vars: map[string]any{"name": "env"}},
	}, nil, nil)
	ctx.CollectionVariables.Set("name", "collection")
	frame := ctx.PushScope(ScopeRequest, "r1")
	frame.Vars["name"] = "scope"

	r := NewValueResolver(ctx)
	v, ok := r.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "scope", v)

	ctx.PopScope("r1")
	v, ok = r.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "collection", v)
}

func TestValueResolverFallsBackThroughTiers(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{
		GlobalVariables: map[string]any{"onlyGlobal": "g"},
	}, nil, nil)
	r := NewValueResolver(ctx)
	v, ok := r.Lookup("onlyGlobal")
	require.True(t, ok)
	assert.Equal(t, "g", v)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestValueResolverIterationRowWins(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{
		GlobalVariables: map[string]any{"id": "global"},
	}, nil, nil)
	ctx.IterationData = []map[string]any{{"id": "row0"}, {"id": "row1"}}
	ctx.IterationCurrent = 1

	r := NewValueResolver(ctx)
	v, ok := r.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, "row1", v)
}

type fakeProvider struct {
	id    string
	value string
}

func (f fakeProvider) Provider() string                         { return f.id }
func (f fakeProvider) Validate(map[string]any) ValidationResult { return ValidationResult{Valid: true} }
func (f fakeProvider) GetValue(key string, config map[string]any, ctx *ExecutionContext) (string, error) {
	return f.value, nil
}

func TestValueResolverFallsBackToProviders(t *testing.T) {
	providers := map[string]ValueProvider{"vault": fakeProvider{id: "vault", value: "secret-value"}}
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, providers)

	r := NewValueResolver(ctx)
	v, ok := r.Lookup("db.password")
	require.True(t, ok)
	assert.Equal(t, "secret-value", v)
}

func TestResolveStringExpandsPlaceholders(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{
		GlobalVariables: map[string]any{"host": "example.com"},
	}, nil, nil)
	r := NewValueResolver(ctx)
	assert.Equal(t, "https://example.com/api", r.ResolveString("https://{{host}}/api"))
}

func TestResolveStringLeavesUnknownPlaceholderVerbatim(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{}, nil, nil)
	r := NewValueResolver(ctx)
	assert.Equal(t, "{{missing}}", r.ResolveString("{{missing}}"))
}

func TestResolveAllRecursesIntoNestedStructures(t *testing.T) {
	ctx := NewExecutionContext(model.Info{}, "http", RuntimeOptions{
		GlobalVariables: map[string]any{"id": "42"},
	}, nil, nil)
	r := NewValueResolver(ctx)
	out := r.ResolveAll(map[string]any{
		"id":   "{{id}}",
		"list": []any{"{{id}}", "literal"},
	})
	m := out.(map[string]any)
	assert.Equal(t, "42", m["id"])
	assert.Equal(t, []any{"42", "literal"}, m["list"])
}

func TestRuntimeOptionsStrictDefaultsTrue(t *testing.T) {
	assert.True(t, RuntimeOptions{}.Strict())
	f := false
	assert.False(t, RuntimeOptions{StrictMode: &f}.Strict())
}
