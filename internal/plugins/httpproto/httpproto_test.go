package httpproto

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fracture-labs/fracture/internal/cookiejar"
	"github.com/fracture-labs/fracture/internal/engine"
	"github.com/fracture-labs/fracture/internal/model"
)

func newCtx() *engine.ExecutionContext {
	return engine.NewExecutionContext(model.Info{}, "http", engine.RuntimeOptions{}, cookiejar.New(), nil)
}

func TestValidateRequiresURL(t *testing.T) {
	p := New(0)
	res := p.Validate(model.Request{}, engine.RuntimeOptions{})
	assert.False(t, res.Valid)
}

func TestValidateRejectsUnknownMethod(t *testing.T) {
	p := New(0)
	res := p.Validate(model.Request{Data: model.RequestData{URL: "http://x", Method: "TRACE"}}, engine.RuntimeOptions{})
	assert.False(t, res.Valid)
}

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := New(0)
	req := model.Request{Data: model.RequestData{URL: srv.URL, Method: "GET"}}
	resp, err := p.Execute(req, newCtx(), engine.RuntimeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "success", resp.Summary.Outcome)
	assert.Equal(t, "1", resp.Headers["x-test"])
	assert.Contains(t, resp.Body, "ok")
}

func TestExecuteResolvesPlaceholdersInURLAndHeaders(t *testing.T) {
	var gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := newCtx()
	ctx.GlobalVariables.Set("token", "abc")
	req := model.Request{Data: model.RequestData{
		URL:     srv.URL + "/{{token}}",
		Method:  "GET",
		Headers: map[string]string{"X-Key": "{{token}}"},
	}}
	_, err := New(0).Execute(req, ctx, engine.RuntimeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/abc", gotPath)
	assert.Equal(t, "abc", gotHeader)
}

func TestExecuteConnectionFailureReturnsFailureOutcome(t *testing.T) {
	p := New(0)
	req := model.Request{Data: model.RequestData{URL: "http://127.0.0.1:1", Method: "GET"}}
	resp, err := p.Execute(req, newCtx(), engine.RuntimeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "failure", resp.Summary.Outcome)
	assert.NotEmpty(t, resp.Error)
}
