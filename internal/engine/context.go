package engine

import (
	"context"
	"sync"
	"time"

	"github.com/fracture-labs/fracture/internal/cookiejar"
	"github.com/fracture-labs/fracture/internal/model"
)

// ScopeLevel names the lifecycle span a ScopeStackFrame belongs to.
type ScopeLevel string

const (
	ScopeCollection ScopeLevel = "collection"
	ScopeFolder     ScopeLevel = "folder"
	ScopeRequest    ScopeLevel = "request"
)

// ScopeStackFrame is a keyed bag of variables pushed on folder-enter/request
// start and popped on the matching exit.
type ScopeStackFrame struct {
	Level ScopeLevel
	ID    string
	Vars  map[string]any
}

// EventRef identifies the plugin event a script is currently running under,
// or is nil outside plugin-event scripts (quest.event).
type EventRef struct {
	Name  string
	Index int
}

// ExecutionRecord is the per-request archival row appended to
// ExecutionContext.ExecutionHistory when a request node completes.
type ExecutionRecord struct {
	ID          string
	Name        string
	Path        string
	Iteration   int
	Response    *ProtocolResponse
	Tests       []TestResult
	ScriptError string
	Timestamp   time.Time
}

// TestResult is a single user assertion recorded by quest.test/quest.skip.
type TestResult struct {
	Name    string
	Passed  bool
	Skipped bool
	Error   string
	Source  TestSource
}

// TestSource records where a TestResult was produced, for the
// plugin-event-aware test bookkeeping in ExecutionContext.History.
type TestSource struct {
	ScriptType string
	EventName  string
}

// ExecutionContext is the single mutable, per-run object threaded through
// every script and protocol call. All access from script code is serialized
// by ScriptMutex (spec.md §5).
type ExecutionContext struct {
	ScriptMutex sync.Mutex

	CollectionInfo model.Info
	Protocol       string

	GlobalVariables     *VarMap
	CollectionVariables *VarMap
	Environment         Environment

	scopeMu    sync.Mutex
	ScopeStack []*ScopeStackFrame

	IterationData    []map[string]any
	IterationCurrent int
	IterationCount   int
	IterationSource  string // "data" | "testData" | "none"

	historyMu        sync.Mutex
	ExecutionHistory []ExecutionRecord

	CurrentRequest  *model.Request
	CurrentResponse *ProtocolResponse

	Event *EventRef

	CookieJar cookiejar.Jar

	ValueProviders map[string]ValueProvider

	AbortCtx    context.Context
	AbortCancel context.CancelCauseFunc

	Options RuntimeOptions

	miscMu           sync.Mutex
	expectedMessages map[string]expectedMessage
	eventIndex       map[string]int
}

// Environment is the named variable set selected for a run
// (RuntimeOptions.Environment).
type Environment struct {
	Name string
	Vars *VarMap
}

type expectedMessage struct {
	count     int
	timeoutMs int
}

// NewExecutionContext builds a fresh per-run context. Two concurrent runs
// must never share one (spec.md §9 "Global mutable state").
func NewExecutionContext(info model.Info, protocol string, opts RuntimeOptions, jar cookiejar.Jar, providers map[string]ValueProvider) *ExecutionContext {
	parent := opts.Signal
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)

	env := Environment{Vars: NewVarMap(opts.Environment.Vars)}
	if opts.Environment.Name != "" {
		env.Name = opts.Environment.Name
	}

	return &ExecutionContext{
		CollectionInfo:      info,
		Protocol:            protocol,
		GlobalVariables:     NewVarMap(opts.GlobalVariables),
		CollectionVariables: NewVarMap(nil),
		Environment:         env,
		CookieJar:           jar,
		ValueProviders:      providers,
		AbortCtx:            ctx,
		AbortCancel:         cancel,
		Options:             opts,
		expectedMessages:    make(map[string]expectedMessage),
		eventIndex:          make(map[string]int),
	}
}

// Aborted reports whether the run has been cancelled (external signal or bail).
func (ec *ExecutionContext) Aborted() bool {
	select {
	case <-ec.AbortCtx.Done():
		return true
	default:
		return false
	}
}

// AbortReason returns the cause string set by Abort, or "" if not aborted.
func (ec *ExecutionContext) AbortReason() string {
	if err := context.Cause(ec.AbortCtx); err != nil && err != context.Canceled {
		return err.Error()
	}
	if ec.Aborted() {
		return "cancelled"
	}
	return ""
}

// PushScope pushes a new frame and returns it.
func (ec *ExecutionContext) PushScope(level ScopeLevel, id string) *ScopeStackFrame {
	f := &ScopeStackFrame{Level: level, ID: id, Vars: make(map[string]any)}
	ec.scopeMu.Lock()
	ec.ScopeStack = append(ec.ScopeStack, f)
	ec.scopeMu.Unlock()
	return f
}

// PopScope removes the top frame, matching the given id for safety.
func (ec *ExecutionContext) PopScope(id string) {
	ec.scopeMu.Lock()
	defer ec.scopeMu.Unlock()
	n := len(ec.ScopeStack)
	if n == 0 {
		return
	}
	if ec.ScopeStack[n-1].ID == id {
		ec.ScopeStack = ec.ScopeStack[:n-1]
		return
	}
	// Defensive: pop by id even if not topmost, rather than corrupting state.
	for i := n - 1; i >= 0; i-- {
		if ec.ScopeStack[i].ID == id {
			ec.ScopeStack = append(ec.ScopeStack[:i], ec.ScopeStack[i+1:]...)
			return
		}
	}
}

// ScopeFrames returns a snapshot of the current stack, top-first.
func (ec *ExecutionContext) ScopeFrames() []*ScopeStackFrame {
	ec.scopeMu.Lock()
	defer ec.scopeMu.Unlock()
	out := make([]*ScopeStackFrame, len(ec.ScopeStack))
	for i, f := range ec.ScopeStack {
		out[len(ec.ScopeStack)-1-i] = f
	}
	return out
}

// TopScope returns the innermost frame, or nil if the stack is empty.
func (ec *ExecutionContext) TopScope() *ScopeStackFrame {
	ec.scopeMu.Lock()
	defer ec.scopeMu.Unlock()
	if len(ec.ScopeStack) == 0 {
		return nil
	}
	return ec.ScopeStack[len(ec.ScopeStack)-1]
}

// AppendHistory appends a completed request's record. Append-only per spec.md
// invariant: "executionHistory grows append-only".
func (ec *ExecutionContext) AppendHistory(rec ExecutionRecord) {
	ec.historyMu.Lock()
	defer ec.historyMu.Unlock()
	ec.ExecutionHistory = append(ec.ExecutionHistory, rec)
}

// History returns a snapshot of the execution history.
func (ec *ExecutionContext) History() []ExecutionRecord {
	ec.historyMu.Lock()
	defer ec.historyMu.Unlock()
	out := make([]ExecutionRecord, len(ec.ExecutionHistory))
	copy(out, ec.ExecutionHistory)
	return out
}

// SetExpectedMessages records quest.expectMessages(n, timeoutMs) for the
// current request so the protocol plugin and expected-test-count scan can
// read it back.
func (ec *ExecutionContext) SetExpectedMessages(requestID string, n, timeoutMs int) {
	ec.miscMu.Lock()
	defer ec.miscMu.Unlock()
	ec.expectedMessages[requestID] = expectedMessage{count: n, timeoutMs: timeoutMs}
}

// ExpectedMessages returns the declared count for a request, or (0, false).
func (ec *ExecutionContext) ExpectedMessages(requestID string) (int, bool) {
	ec.miscMu.Lock()
	defer ec.miscMu.Unlock()
	em, ok := ec.expectedMessages[requestID]
	return em.count, ok
}

// NextEventIndex returns and increments the per-request-per-event-name
// 0-based counter used for quest.event.index.
func (ec *ExecutionContext) NextEventIndex(requestID, eventName string) int {
	ec.miscMu.Lock()
	defer ec.miscMu.Unlock()
	key := requestID + "\x00" + eventName
	idx := ec.eventIndex[key]
	ec.eventIndex[key] = idx + 1
	return idx
}

// ResetEventIndices clears per-request event counters; called by the
// scheduler before executing a new request node (spec.md: "Event indices
// reset per request").
func (ec *ExecutionContext) ResetEventIndices(requestID string) {
	ec.miscMu.Lock()
	defer ec.miscMu.Unlock()
	prefix := requestID + "\x00"
	for k := range ec.eventIndex {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(ec.eventIndex, k)
		}
	}
}
