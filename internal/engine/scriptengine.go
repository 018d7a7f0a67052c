package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/fracture-labs/fracture/internal/model"
)

// ScriptType names the lifecycle slot a script runs under; the validator and
// engine both gate behavior on it (e.g. quest.test is only legal in
// request-post and eligible plugin events).
type ScriptType string

const (
	ScriptCollectionPre         ScriptType = "collection-pre"
	ScriptCollectionPost        ScriptType = "collection-post"
	ScriptCollectionPreRequest  ScriptType = "collection-preRequest"
	ScriptCollectionPostRequest ScriptType = "collection-postRequest"
	ScriptFolderPre             ScriptType = "folder-pre"
	ScriptFolderPost            ScriptType = "folder-post"
	ScriptFolderPreRequest      ScriptType = "folder-preRequest"
	ScriptFolderPostRequest     ScriptType = "folder-postRequest"
	ScriptRequestPre            ScriptType = "request-pre"
	ScriptRequestPost           ScriptType = "request-post"
	ScriptPluginEvent           ScriptType = "plugin-event"
)

// ScriptResult is the engine's output contract for one script run.
type ScriptResult struct {
	Success        bool
	Tests          []TestResult
	ConsoleOutput  []string
	Error          string
}

// ErrRequestAbort is returned by quest.sendRequest when run under an
// exhausted abort signal.
var ErrRequestAbort = errors.New("aborted")

// ScriptEngine runs one script at a time inside a fresh goja.Runtime bound to
// the quest.* API surface. It never runs two scripts concurrently for the
// same ExecutionContext; callers are expected to already hold
// ExecutionContext.ScriptMutex (the Scheduler does).
type ScriptEngine struct {
	protocol ProtocolPlugin
}

// NewScriptEngine builds an engine bound to the active protocol plugin, used
// for quest.request/quest.response and quest.sendRequest.
func NewScriptEngine(protocol ProtocolPlugin) *ScriptEngine {
	return &ScriptEngine{protocol: protocol}
}

// Run executes script under the given ExecutionContext and script type.
// event is non-nil only for ScriptPluginEvent runs.
func (e *ScriptEngine) Run(ctx *ExecutionContext, script string, st ScriptType, event *EventRef) ScriptResult {
	if strings.TrimSpace(script) == "" {
		return ScriptResult{Success: true}
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	result := &ScriptResult{Success: true}
	prevEvent := ctx.Event
	ctx.Event = event
	defer func() { ctx.Event = prevEvent }()

	quest := e.buildQuestObject(rt, ctx, st, result)
	if err := rt.Set("quest", quest); err != nil {
		return ScriptResult{Success: false, Error: err.Error()}
	}
	rt.Set("console", e.buildConsole(result))

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("%v", r)
		}
	}()

	if ctx.Aborted() {
		return ScriptResult{Success: false, Error: "aborted", ConsoleOutput: result.ConsoleOutput}
	}

	_, err := rt.RunString(script)
	if err != nil {
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			result.Success = false
			result.Error = jsErr.Error()
		} else {
			result.Success = false
			result.Error = err.Error()
		}
	}
	return *result
}

// jsThrow raises msg as a catchable JS error from a native-bound function.
func jsThrow(rt *goja.Runtime, msg string) {
	panic(rt.ToValue(msg))
}

func (e *ScriptEngine) buildConsole(result *ScriptResult) map[string]any {
	logFn := func(args ...any) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = toDisplayString(a)
		}
		result.ConsoleOutput = append(result.ConsoleOutput, strings.Join(parts, " "))
	}
	return map[string]any{
		"log": logFn, "info": logFn, "warn": logFn, "error": logFn,
	}
}

// buildQuestObject assembles the quest.* surface described in spec.md §4.3.
func (e *ScriptEngine) buildQuestObject(rt *goja.Runtime, ctx *ExecutionContext, st ScriptType, result *ScriptResult) map[string]any {
	resolver := NewValueResolver(ctx)

	q := map[string]any{
		"collection": map[string]any{
			"info":      ctx.CollectionInfo,
			"variables": varMapSurface(ctx.CollectionVariables),
		},
		"environment": map[string]any{
			"name":      ctx.Environment.Name,
			"variables": varMapSurface(ctx.Environment.Vars),
		},
		"global": map[string]any{
			"variables": varMapSurface(ctx.GlobalVariables),
		},
		"scope": map[string]any{
			"variables": scopeTopSurface(ctx),
		},
		"variables": map[string]any{
			"get": func(name string) any {
				v, ok := resolver.Lookup(name)
				if !ok {
					return nil
				}
				return v
			},
		},
		"iteration": iterationSurface(ctx),
		"history":   historySurface(ctx),
		"cookies":   cookieSurface(ctx),
		"wait":      e.questWait(rt, ctx),
		"skip":      func(reason string) { jsThrow(rt, "skip:"+reason) },
		"expectMessages": func(n int, timeoutMs ...int) {
			if st != ScriptRequestPre {
				jsThrow(rt, "quest.expectMessages() can only be called in request pre scripts")
			}
			ms := 0
			if len(timeoutMs) > 0 {
				ms = timeoutMs[0]
			}
			reqID := ""
			if ctx.CurrentRequest != nil {
				reqID = ctx.CurrentRequest.ID
			}
			ctx.SetExpectedMessages(reqID, n, ms)
		},
		"sendRequest": e.questSendRequest(ctx),
	}

	if ctx.Event != nil {
		q["event"] = map[string]any{"name": ctx.Event.Name, "index": ctx.Event.Index}
	} else {
		q["event"] = nil
	}

	q["test"] = e.questTest(rt, ctx, st, result)

	if e.protocol != nil {
		if provider := e.protocol.ProtocolAPIProvider(ctx); provider != nil {
			if m, ok := provider.(map[string]any); ok {
				for k, v := range m {
					q[k] = v
				}
			}
		}
	}

	return q
}

func (e *ScriptEngine) questTest(rt *goja.Runtime, ctx *ExecutionContext, st ScriptType, result *ScriptResult) func(string, goja.Callable) {
	eligible := questTestEligible(st) || (st == ScriptPluginEvent && e.eventCanHaveTests(ctx))
	return func(name string, fn goja.Callable) {
		if !eligible {
			panic(rt.ToValue("quest.test() can only be called in request-post, collection-post, or folder-post scripts"))
		}
		if ctx.Aborted() {
			panic(rt.ToValue("aborted"))
		}
		tr := TestResult{Name: name, Source: testSourceFor(ctx, st)}
		_, err := fn(goja.Undefined())
		if err != nil {
			if strings.HasPrefix(err.Error(), "skip:") {
				tr.Skipped = true
				tr.Error = strings.TrimPrefix(err.Error(), "skip:")
			} else {
				tr.Passed = false
				tr.Error = err.Error()
			}
		} else {
			tr.Passed = true
		}
		result.Tests = append(result.Tests, tr)
	}
}

func testSourceFor(ctx *ExecutionContext, st ScriptType) TestSource {
	ts := TestSource{ScriptType: string(st)}
	if ctx.Event != nil {
		ts.EventName = ctx.Event.Name
	}
	return ts
}

func (e *ScriptEngine) eventCanHaveTests(ctx *ExecutionContext) bool {
	if e.protocol == nil || ctx.Event == nil {
		return false
	}
	for _, ev := range e.protocol.Events() {
		if ev.Name == ctx.Event.Name {
			return ev.CanHaveTests
		}
	}
	return false
}

func (e *ScriptEngine) questWait(rt *goja.Runtime, ctx *ExecutionContext) func(ms float64) {
	return func(ms float64) {
		if ms != ms { // NaN
			jsThrow(rt, "quest.wait(ms) requires a number")
		}
		if ms < 0 {
			jsThrow(rt, "quest.wait(ms) requires a non-negative number")
		}
		if ctx.Aborted() {
			jsThrow(rt, "aborted")
		}
		select {
		case <-ctx.AbortCtx.Done():
		case <-timeAfter(ms):
		}
	}
}

func (e *ScriptEngine) questSendRequest(ctx *ExecutionContext) func(cfg map[string]any) (*ProtocolResponse, error) {
	return func(cfg map[string]any) (*ProtocolResponse, error) {
		if ctx.Aborted() {
			return nil, ErrRequestAbort
		}
		if e.protocol == nil {
			return nil, fmt.Errorf("no protocol plugin configured")
		}
		req := adHocRequestFrom(cfg)
		resp, err := e.protocol.Execute(req, ctx, ctx.Options, func(string, map[string]any) error { return nil })
		if ctx.Aborted() {
			return nil, ErrRequestAbort
		}
		return resp, err
	}
}

func varMapSurface(vm *VarMap) map[string]any {
	return map[string]any{
		"get": func(name string) any {
			v, ok := vm.Get(name)
			if !ok {
				return nil
			}
			return v
		},
		"set": func(name string, value any) { vm.Set(name, value) },
		"has": func(name string) bool { return vm.Has(name) },
		"unset": func(name string) { vm.Unset(name) },
		"all":  func() map[string]any { return vm.All() },
	}
}

func scopeTopSurface(ctx *ExecutionContext) map[string]any {
	return map[string]any{
		"get": func(name string) any {
			f := ctx.TopScope()
			if f == nil {
				return nil
			}
			return f.Vars[name]
		},
		"set": func(name string, value any) {
			f := ctx.TopScope()
			if f == nil {
				return
			}
			f.Vars[name] = value
		},
	}
}

func iterationSurface(ctx *ExecutionContext) map[string]any {
	row := func() map[string]any {
		if ctx.IterationCurrent < len(ctx.IterationData) {
			return ctx.IterationData[ctx.IterationCurrent]
		}
		return map[string]any{}
	}
	return map[string]any{
		"current": ctx.IterationCurrent + 1,
		"count":   ctx.IterationCount,
		"data": map[string]any{
			"get":      func(k string) any { return row()[k] },
			"has":      func(k string) bool { _, ok := row()[k]; return ok },
			"keys":     func() []string { return mapKeys(row()) },
			"toObject": func() map[string]any { return row() },
			"all":      func() []map[string]any { return ctx.IterationData },
		},
	}
}

func mapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func historySurface(ctx *ExecutionContext) map[string]any {
	return map[string]any{
		"count": func() int { return len(ctx.History()) },
		"get": func(idOrName string) *ExecutionRecord {
			for _, r := range ctx.History() {
				if r.ID == idOrName || r.Name == idOrName {
					return &r
				}
			}
			return nil
		},
		"all":  func() []ExecutionRecord { return ctx.History() },
		"last": func() *ExecutionRecord {
			h := ctx.History()
			if len(h) == 0 {
				return nil
			}
			return &h[len(h)-1]
		},
		"filter": func(criteria map[string]any) []ExecutionRecord {
			var out []ExecutionRecord
			for _, r := range ctx.History() {
				if matchesHistoryCriteria(r, criteria) {
					out = append(out, r)
				}
			}
			return out
		},
	}
}

func matchesHistoryCriteria(r ExecutionRecord, criteria map[string]any) bool {
	if v, ok := criteria["id"].(string); ok && r.ID != v {
		return false
	}
	if v, ok := criteria["name"].(string); ok && r.Name != v {
		return false
	}
	if v, ok := criteria["iteration"]; ok {
		if iv, ok2 := v.(int64); ok2 && int(iv) != r.Iteration {
			return false
		}
	}
	if v, ok := criteria["path"].(string); ok {
		if strings.HasSuffix(v, "*") {
			if !strings.HasPrefix(r.Path, strings.TrimSuffix(v, "*")) {
				return false
			}
		} else if r.Path != v {
			return false
		}
	}
	return true
}

func cookieSurface(ctx *ExecutionContext) map[string]any {
	return map[string]any{
		"get": func(rawURL, name string) any {
			c, ok := ctx.CookieJar.Get(rawURL, name)
			if !ok {
				return nil
			}
			return c.Value
		},
		"has": func(rawURL, name string) bool {
			_, ok := ctx.CookieJar.Get(rawURL, name)
			return ok
		},
		"toObject": func(rawURL string) map[string]string {
			out := map[string]string{}
			for _, c := range ctx.CookieJar.All(rawURL) {
				out[c.Name] = c.Value
			}
			return out
		},
		"clear": func() { ctx.CookieJar.Clear() },
	}
}

// timeAfter is a tiny indirection so tests can substitute a fake clock.
var timeAfter = func(ms float64) <-chan time.Time {
	return time.After(time.Duration(ms * float64(time.Millisecond)))
}

// adHocRequestFrom builds a synthetic Request from a quest.sendRequest(cfg)
// argument object, for calls that bypass the DAG entirely.
func adHocRequestFrom(cfg map[string]any) model.Request {
	req := model.Request{ID: "adhoc", Name: "adhoc"}
	if v, ok := cfg["url"].(string); ok {
		req.Data.URL = v
	}
	if v, ok := cfg["method"].(string); ok {
		req.Data.Method = v
	}
	if v, ok := cfg["headers"].(map[string]any); ok {
		req.Data.Headers = make(map[string]string, len(v))
		for k, hv := range v {
			req.Data.Headers[k] = toDisplayString(hv)
		}
	}
	if v, ok := cfg["body"]; ok {
		req.Data.Body = v
	}
	return req
}
