package engine

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/fracture-labs/fracture/internal/cookiejar"
	"github.com/fracture-labs/fracture/internal/model"
)

// RunEvent names one of the scheduler's lifecycle notifications
// (spec.md §6 "Run events").
type RunEvent string

const (
	EventBeforeRun                RunEvent = "beforeRun"
	EventBeforeFolder             RunEvent = "beforeFolder"
	EventAfterFolder              RunEvent = "afterFolder"
	EventBeforeRequest            RunEvent = "beforeRequest"
	EventAfterRequest             RunEvent = "afterRequest"
	EventAfterRequestPostScript   RunEvent = "afterRequestPostScript"
	EventAfterFolderPostScript    RunEvent = "afterFolderPostScript"
	EventAfterCollectionPostScript RunEvent = "afterCollectionPostScript"
	EventAfterRun                 RunEvent = "afterRun"
)

// Listener receives scheduler lifecycle notifications. payload shape varies
// by event; callers type-assert what they need.
type Listener func(event RunEvent, payload any)

// RunResult is the final report returned by Scheduler.Run (spec.md §3).
type RunResult struct {
	CollectionID, CollectionName string
	StartTime, EndTime           time.Time
	Duration                     time.Duration
	RequestResults               []ExecutionRecord
	TotalTests                   int
	PassedTests                  int
	FailedTests                  int
	SkippedTests                 int
	Aborted                      bool
	AbortReason                  string
	ValidationErrors             []ValidationError
}

// Scheduler (CollectionRunner) drives a TaskGraph to completion under a
// bounded worker pool, owning the shared ExecutionContext for the run.
type Scheduler struct {
	Protocol       ProtocolPlugin
	Auths          map[string]AuthPlugin
	ValueProviders map[string]ValueProvider
	Jar            cookiejar.Jar
	Listen         Listener
	Logger         *log.Logger
}

// NewScheduler builds a scheduler for one collection run. A nil logger falls
// back to a discard logger, matching the teacher's "logging is optional,
// never required" posture throughout pkg/core/tools.
func NewScheduler(protocol ProtocolPlugin, auths map[string]AuthPlugin, jar cookiejar.Jar, listen Listener) *Scheduler {
	if jar == nil {
		jar = cookiejar.New()
	}
	if listen == nil {
		listen = func(RunEvent, any) {}
	}
	return &Scheduler{
		Protocol: protocol,
		Auths:    auths,
		Jar:      jar,
		Listen:   listen,
		Logger:   log.New(io.Discard),
	}
}

// WithValueProviders registers ValueProvider plugins (e.g. file-vault),
// keyed by provider id, so script/variable resolution can fall back to them.
func (s *Scheduler) WithValueProviders(providers map[string]ValueProvider) *Scheduler {
	s.ValueProviders = providers
	return s
}

// Run validates then executes coll under opts, always returning a
// RunResult; it errors only on uncaught script failures in pre/post scripts
// (spec.md §7: "the run fails fast ... propagates the error to the caller").
func (s *Scheduler) Run(coll model.Collection, opts RuntimeOptions) (*RunResult, error) {
	start := time.Now()
	validator := NewCollectionValidator(s.Protocol, s.Auths)
	if errs := validator.Validate(coll, opts); len(errs) > 0 {
		s.Logger.Warn("collection failed validation, run aborted", "collection", coll.Info.Name, "errors", len(errs))
		return &RunResult{
			CollectionID:     coll.Info.ID,
			CollectionName:   coll.Info.Name,
			StartTime:        start,
			EndTime:          start,
			ValidationErrors: errs,
		}, nil
	}

	iterData, iterCount := resolveIterations(coll, opts)

	ec := NewExecutionContext(coll.Info, coll.Protocol, withIterations(opts, iterData, iterCount), s.Jar, s.ValueProviders)
	engineRT := NewScriptEngine(s.Protocol)

	expected := computeExpectedTestCount(coll, iterCount, s.Protocol)
	s.Logger.Info("run starting", "collection", coll.Info.Name, "iterations", iterCount, "expectedTests", expected)
	s.Listen(EventBeforeRun, map[string]any{"expectedTestCount": expected})

	var bailed bool
	var bailReason string

	for i := 0; i < iterCount && !ec.Aborted(); i++ {
		ec.IterationCurrent = i
		graph, err := BuildTaskGraph(coll)
		if err != nil {
			return nil, fmt.Errorf("building task graph: %w", err)
		}
		for _, rawID := range graph.DroppedDependsOn {
			s.Logger.Warn("dependsOn target not found in collection, edge skipped", "collection", coll.Info.Name, "dependsOn", rawID)
		}
		if err := s.drain(graph, ec, engineRT, opts, &bailed, &bailReason); err != nil {
			return nil, err
		}
	}

	end := time.Now()
	result := &RunResult{
		CollectionID:   coll.Info.ID,
		CollectionName: coll.Info.Name,
		StartTime:      start,
		EndTime:        end,
		Duration:       end.Sub(start),
		RequestResults: ec.History(),
	}
	for _, rec := range ec.History() {
		for _, t := range rec.Tests {
			result.TotalTests++
			switch {
			case t.Skipped:
				result.SkippedTests++
			case t.Passed:
				result.PassedTests++
			default:
				result.FailedTests++
			}
		}
	}
	if ec.Aborted() {
		result.Aborted = true
		result.AbortReason = ec.AbortReason()
	}
	if bailed {
		result.Aborted = true
		result.AbortReason = bailReason
	}
	s.Logger.Info("run finished", "collection", coll.Info.Name, "duration", result.Duration, "passed", result.PassedTests, "failed", result.FailedTests, "aborted", result.Aborted)
	s.Listen(EventAfterRun, result)
	return result, nil
}

// drain executes one iteration's DAG to completion (or until aborted/bail).
func (s *Scheduler) drain(g *TaskGraph, ec *ExecutionContext, eng *ScriptEngine, opts RuntimeOptions, bailed *bool, bailReason *string) error {
	maxConc := opts.Execution.MaxConcurrency
	if !opts.Execution.AllowParallel || maxConc <= 0 {
		maxConc = 1
	}

	done := map[string]bool{}
	skippedFolders := map[string]bool{}
	var mu sync.Mutex
	var firstErr error

	for {
		mu.Lock()
		ready := g.ReadyNodes(done)
		mu.Unlock()
		if len(ready) == 0 {
			break
		}
		if ec.Aborted() || *bailed {
			// drain remaining ready nodes as done without executing, so the
			// loop terminates; already-started work has already finished.
			for _, n := range ready {
				mu.Lock()
				done[n.ID] = true
				g.CompleteNode(n.ID)
				mu.Unlock()
			}
			continue
		}

		var grp errgroup.Group
		grp.SetLimit(maxConc)

		for _, node := range ready {
			node := node
			grp.Go(func() error {
				err := s.executeNode(node, g, ec, eng, opts, skippedFolders, bailed, bailReason)
				mu.Lock()
				done[node.ID] = true
				g.CompleteNode(node.ID)
				mu.Unlock()
				return err
			})
		}
		if err := grp.Wait(); err != nil {
			firstErr = err
			break
		}
	}
	return firstErr
}

// executeNode runs one node to completion per spec.md §4.5 "Node execution
// semantics".
func (s *Scheduler) executeNode(node *TaskNode, g *TaskGraph, ec *ExecutionContext, eng *ScriptEngine, opts RuntimeOptions, skipped map[string]bool, bailed *bool, bailReason *string) error {
	switch node.Kind {
	case NodeCollectionScript:
		return s.runCollectionScript(node, ec, eng, opts, bailed, bailReason)
	case NodeFolderEnter:
		return s.runFolderEnter(node, g, ec, eng, skipped)
	case NodeFolderExit:
		return s.runFolderExit(node, ec, eng, opts, skipped, bailed, bailReason)
	case NodeRequest:
		return s.runRequest(node, g, ec, eng, opts, skipped, bailed, bailReason)
	}
	return nil
}

func (s *Scheduler) runCollectionScript(node *TaskNode, ec *ExecutionContext, eng *ScriptEngine, opts RuntimeOptions, bailed *bool, bailReason *string) error {
	st := ScriptCollectionPre
	if node.ID == "collectionScript:pre" {
		ec.PushScope(ScopeCollection, "collection")
	} else {
		st = ScriptCollectionPost
	}
	ec.ScriptMutex.Lock()
	res := eng.Run(ec, node.Script, st, nil)
	ec.ScriptMutex.Unlock()
	if node.ID != "collectionScript:pre" {
		ec.PopScope("collection")
		s.Listen(EventAfterCollectionPostScript, nil)
	}
	if !res.Success && node.Script != "" {
		return fmt.Errorf("%s script error: %s", st, res.Error)
	}
	if len(res.Tests) > 0 {
		ec.AppendHistory(ExecutionRecord{
			ID: node.ID, Name: string(st), Path: node.ParentPath, Iteration: ec.IterationCurrent,
			Tests: res.Tests, Timestamp: nowStamp(),
		})
	}
	s.checkBail(res, opts, bailed, bailReason)
	return nil
}

func (s *Scheduler) runFolderEnter(node *TaskNode, g *TaskGraph, ec *ExecutionContext, eng *ScriptEngine, skipped map[string]bool) error {
	s.Listen(EventBeforeFolder, node.Folder)
	ec.PushScope(ScopeFolder, node.FolderID)
	// A false condition on this folder, or on any ancestor folder already
	// marked skipped, collapses the whole subtree (spec.md §4.5/§8 scenario
	// 5): no pre-script runs and every descendant request is skipped too.
	if skipped[g.ParentFolder(node.ID)] || isConditionFalse(node.Condition, ec) {
		skipped[node.FolderID] = true
		return nil
	}
	if node.Folder != nil && node.Folder.PreScript != "" {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, node.Folder.PreScript, ScriptFolderPre, nil)
		ec.ScriptMutex.Unlock()
		if !res.Success {
			return fmt.Errorf("folder-pre script error: %s", res.Error)
		}
	}
	return nil
}

func (s *Scheduler) runFolderExit(node *TaskNode, ec *ExecutionContext, eng *ScriptEngine, opts RuntimeOptions, skipped map[string]bool, bailed *bool, bailReason *string) error {
	if node.Folder != nil && node.Folder.PostScript != "" && !skipped[node.FolderID] {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, node.Folder.PostScript, ScriptFolderPost, nil)
		ec.ScriptMutex.Unlock()
		s.Listen(EventAfterFolderPostScript, node.Folder)
		if !res.Success {
			return fmt.Errorf("folder-post script error: %s", res.Error)
		}
		if len(res.Tests) > 0 {
			ec.AppendHistory(ExecutionRecord{
				ID: node.ID, Name: "folder-post", Path: node.ParentPath, Iteration: ec.IterationCurrent,
				Tests: res.Tests, Timestamp: nowStamp(),
			})
		}
		s.checkBail(res, opts, bailed, bailReason)
	}
	ec.PopScope(node.FolderID)
	s.Listen(EventAfterFolder, node.Folder)
	return nil
}

func (s *Scheduler) runRequest(node *TaskNode, g *TaskGraph, ec *ExecutionContext, eng *ScriptEngine, opts RuntimeOptions, skipped map[string]bool, bailed *bool, bailReason *string) error {
	s.Listen(EventBeforeRequest, node.Request)
	req := node.Request.Clone()
	ec.ResetEventIndices(req.ID)
	ec.PushScope(ScopeRequest, req.ID)
	defer ec.PopScope(req.ID)

	parentFolderID := g.ParentFolder(node.ID)
	if skipped[parentFolderID] || isConditionFalse(node.Condition, ec) {
		ec.AppendHistory(ExecutionRecord{
			ID: req.ID, Name: req.Name, Path: node.ParentPath, Iteration: ec.IterationCurrent,
			ScriptError: "Skipped by condition", Timestamp: nowStamp(),
		})
		s.Listen(EventAfterRequest, req)
		return nil
	}

	ec.CurrentRequest = &req
	var allTests []TestResult

	for _, scr := range node.InheritedPreScripts {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, scr, ScriptFolderPreRequest, nil)
		ec.ScriptMutex.Unlock()
		if !res.Success {
			return fmt.Errorf("inherited pre-request script error: %s", res.Error)
		}
	}
	if req.PreRequestScript != "" {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, req.PreRequestScript, ScriptRequestPre, nil)
		ec.ScriptMutex.Unlock()
		if !res.Success {
			return fmt.Errorf("request-pre script error: %s", res.Error)
		}
	}

	if node.EffectiveAuth != nil && node.EffectiveAuth.Type != model.AuthNone {
		if plugin, ok := s.Auths[node.EffectiveAuth.Type]; ok {
			applied, err := plugin.Apply(req, *node.EffectiveAuth, opts)
			if err == nil {
				req = applied
				ec.CurrentRequest = &req
			}
		}
	}

	var resp *ProtocolResponse
	var scriptErr string
	if s.Protocol != nil {
		emitEvent := func(name string, payload map[string]any) error {
			idx := ec.NextEventIndex(req.ID, name)
			var es *model.EventScript
			for i := range req.Data.Scripts {
				if req.Data.Scripts[i].Event == name {
					es = &req.Data.Scripts[i]
				}
			}
			if es == nil {
				return nil
			}
			ec.ScriptMutex.Lock()
			res := eng.Run(ec, es.Script, ScriptPluginEvent, &EventRef{Name: name, Index: idx})
			ec.ScriptMutex.Unlock()
			allTests = append(allTests, res.Tests...)
			s.checkBail(res, opts, bailed, bailReason)
			if !res.Success {
				return fmt.Errorf("plugin-event %q script error: %s", name, res.Error)
			}
			return nil
		}
		var err error
		resp, err = s.Protocol.Execute(req, ec, opts, emitEvent)
		if err != nil {
			scriptErr = err.Error()
		}
		ec.CurrentResponse = resp
	}

	if req.PostRequestScript != "" {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, req.PostRequestScript, ScriptRequestPost, nil)
		ec.ScriptMutex.Unlock()
		allTests = append(allTests, res.Tests...)
		s.Listen(EventAfterRequestPostScript, req)
		if !res.Success {
			return fmt.Errorf("request-post script error: %s", res.Error)
		}
		s.checkBail(res, opts, bailed, bailReason)
	}
	for i := len(node.InheritedPostScripts) - 1; i >= 0; i-- {
		ec.ScriptMutex.Lock()
		res := eng.Run(ec, node.InheritedPostScripts[i], ScriptFolderPostRequest, nil)
		ec.ScriptMutex.Unlock()
		if !res.Success {
			return fmt.Errorf("inherited post-request script error: %s", res.Error)
		}
	}

	ec.AppendHistory(ExecutionRecord{
		ID: req.ID, Name: req.Name, Path: node.ParentPath, Iteration: ec.IterationCurrent,
		Response: resp, Tests: allTests, ScriptError: scriptErr, Timestamp: nowStamp(),
	})
	s.Listen(EventAfterRequest, req)
	return nil
}

func (s *Scheduler) checkBail(res ScriptResult, opts RuntimeOptions, bailed *bool, bailReason *string) {
	if !opts.Execution.Bail || *bailed {
		return
	}
	if !res.Success {
		*bailed = true
		*bailReason = "Test failure (--bail)"
		return
	}
	for _, t := range res.Tests {
		if !t.Passed && !t.Skipped {
			*bailed = true
			*bailReason = "Test failure (--bail)"
			return
		}
	}
}

// isConditionFalse evaluates a condition string. Condition expressions are
// themselves tiny scripts (spec examples show quest.global.variables.get(...)
// comparisons); only the literal "false" (case-insensitive, after trimming)
// short-circuits per spec.md §4.5, anything else is left to the protocol/
// plugin layer to interpret as truthy.
func isConditionFalse(condition string, ec *ExecutionContext) bool {
	if condition == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(condition), "false")
}

func resolveIterations(coll model.Collection, opts RuntimeOptions) ([]map[string]any, int) {
	data := coll.TestData
	if opts.Data != nil {
		data = opts.Data
	}
	count := len(data)
	if count == 0 {
		count = 1
	}
	if opts.Iterations > 0 {
		count = opts.Iterations
		if count > len(data) && len(data) > 0 {
			count = len(data)
		}
	}
	return data, count
}

func withIterations(opts RuntimeOptions, data []map[string]any, count int) RuntimeOptions {
	opts.Data = data
	return opts
}

func computeExpectedTestCount(coll model.Collection, iterCount int, protocol ProtocolPlugin) int {
	total := 0
	total += CountTests(coll.PostScript) * iterCount

	var walk func(items []model.Item)
	dynamic := false
	walk = func(items []model.Item) {
		for _, item := range items {
			if item.IsFolder() {
				total += CountTests(item.Folder.PostScript) * iterCount
				walk(item.Folder.Items)
				continue
			}
			r := item.Request
			total += CountTests(r.PostRequestScript) * iterCount
			for _, es := range r.Data.Scripts {
				n := CountTests(es.Script)
				if n == 0 {
					continue
				}
				if expected, ok := ExtractExpectedMessages(r.PreRequestScript); ok {
					total += n * expected * iterCount
				} else {
					dynamic = true
				}
			}
		}
	}
	walk(coll.Items)
	if dynamic {
		return -1
	}
	return total
}

func nowStamp() time.Time { return time.Now() }
