package engine

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// ValidationError is the shared diagnostic shape across script, protocol,
// auth, vault, and schema-level validation (spec.md §7 taxonomy).
type ValidationError struct {
	Message    string
	Location   string
	Source     string // "script" | "protocol" | "auth" | "vault" | "schema"
	ScriptType string
	Details    ValidationDetails
}

// ValidationDetails pins a script-level error to a source position.
type ValidationDetails struct {
	Line       int
	Column     int
	Suggestion string
}

// ScriptValidator performs the AST-level static checks from spec.md §4.1
// without ever executing user code.
type ScriptValidator struct {
	eventCanHaveTests map[string]bool
}

// NewScriptValidator builds a validator aware of which plugin event names
// may carry quest.test() calls.
func NewScriptValidator(events []EventDef) *ScriptValidator {
	m := make(map[string]bool, len(events))
	for _, e := range events {
		m[e.Name] = e.CanHaveTests
	}
	return &ScriptValidator{eventCanHaveTests: m}
}

// Validate runs every applicable check for one script of the given type
// (and, for plugin-event scripts, event name).
func (v *ScriptValidator) Validate(script string, st ScriptType, eventName string, strict bool) []ValidationError {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	prog, err := parser.ParseFile(nil, "", script, 0)
	if err != nil {
		return []ValidationError{{Message: err.Error(), Source: "script", ScriptType: string(st)}}
	}

	var errs []ValidationError
	calls := findQuestCalls(prog)

	for _, call := range calls {
		switch call.method {
		case "test":
			if !questTestEligible(st) && !(st == ScriptPluginEvent && v.eventCanHaveTests[eventName]) {
				errs = append(errs, ValidationError{
					Message:    "quest.test() is only allowed in request-post, collection-post, folder-post scripts, or eligible plugin events",
					Source:     "script",
					ScriptType: string(st),
				})
			}
			if strict && call.conditional {
				errs = append(errs, ValidationError{
					Message:    "quest.test() must not be called conditionally in strict mode",
					Source:     "script",
					ScriptType: string(st),
					Details:    ValidationDetails{Suggestion: "use quest.skip() or a request-level condition instead"},
				})
			}
		case "expectMessages":
			if st != ScriptRequestPre {
				errs = append(errs, ValidationError{
					Message:    "quest.expectMessages() is only allowed in request-pre scripts",
					Source:     "script",
					ScriptType: string(st),
				})
				continue
			}
			if !firstArgIsPositiveIntLiteral(call.args) {
				errs = append(errs, ValidationError{
					Message:    "quest.expectMessages() first argument must be a positive integer literal",
					Source:     "script",
					ScriptType: string(st),
				})
			}
			if len(v.eventCanHaveTests) > 0 && !anyEventCanHaveTests(v.eventCanHaveTests) {
				errs = append(errs, ValidationError{
					Message:    "quest.expectMessages() requires a protocol event with canHaveTests=true",
					Source:     "script",
					ScriptType: string(st),
				})
			}
			if st == ScriptPluginEvent && !v.eventCanHaveTests[eventName] {
				errs = append(errs, ValidationError{
					Message:    fmt.Sprintf("event %q does not support tests", eventName),
					Source:     "script",
					ScriptType: string(st),
				})
			}
		}
	}

	return errs
}

// questTestEligible reports whether quest.test() may be called directly in a
// script of type st, independent of plugin events. spec.md §8 scenario 1
// ("Test-count with nesting") counts tests registered from collection-post
// and folder-post alongside request-post, so all three are eligible.
func questTestEligible(st ScriptType) bool {
	switch st {
	case ScriptRequestPost, ScriptCollectionPost, ScriptFolderPost:
		return true
	default:
		return false
	}
}

// ValidateEventUniqueness enforces "at most one script per event name" for
// one request's data.scripts list.
func ValidateEventUniqueness(events []string) []ValidationError {
	seen := map[string]bool{}
	var errs []ValidationError
	for _, name := range events {
		if seen[name] {
			errs = append(errs, ValidationError{
				Message: fmt.Sprintf("duplicate script bound to event %q", name),
				Source:  "script",
			})
		}
		seen[name] = true
	}
	return errs
}

// CountTests returns the number of quest.test(...) call sites in script,
// or 0 if the script has a syntax error.
func CountTests(script string) int {
	if strings.TrimSpace(script) == "" {
		return 0
	}
	prog, err := parser.ParseFile(nil, "", script, 0)
	if err != nil {
		return 0
	}
	n := 0
	for _, c := range findQuestCalls(prog) {
		if c.method == "test" {
			n++
		}
	}
	return n
}

// ExtractExpectedMessages returns the literal integer argument of
// quest.expectMessages(n, ...) if present and well-formed, else (0, false).
func ExtractExpectedMessages(script string) (int, bool) {
	if strings.TrimSpace(script) == "" {
		return 0, false
	}
	prog, err := parser.ParseFile(nil, "", script, 0)
	if err != nil {
		return 0, false
	}
	for _, c := range findQuestCalls(prog) {
		if c.method == "expectMessages" && firstArgIsPositiveIntLiteral(c.args) {
			return intLiteralValue(c.args[0]), true
		}
	}
	return 0, false
}

type questCall struct {
	method      string
	args        []ast.Expression
	conditional bool
}

// findQuestCalls walks the program body for call expressions shaped
// quest.<method>(...), tracking whether each sits under a conditional
// construct (if/ternary/&&/||/try).
func findQuestCalls(prog *ast.Program) []questCall {
	var out []questCall
	w := &questWalker{out: &out}
	for _, stmt := range prog.Body {
		w.walkStatement(stmt, false)
	}
	return out
}

type questWalker struct {
	out *[]questCall
}

func (w *questWalker) walkStatement(s ast.Statement, conditional bool) {
	if s == nil {
		return
	}
	switch n := s.(type) {
	case *ast.BlockStatement:
		for _, st := range n.List {
			w.walkStatement(st, conditional)
		}
	case *ast.ExpressionStatement:
		w.walkExpression(n.Expression, conditional)
	case *ast.IfStatement:
		w.walkExpression(n.Test, conditional)
		w.walkStatement(n.Consequent, true)
		w.walkStatement(n.Alternate, true)
	case *ast.TryStatement:
		w.walkStatement(n.Body, true)
		if n.Catch != nil {
			w.walkStatement(n.Catch.Body, true)
		}
		w.walkStatement(n.Finally, true)
	case *ast.ForStatement:
		w.walkStatement(n.Body, conditional)
	case *ast.ForInStatement:
		w.walkStatement(n.Body, conditional)
	case *ast.WhileStatement:
		w.walkStatement(n.Body, conditional)
	case *ast.ReturnStatement:
		w.walkExpression(n.Argument, conditional)
	case *ast.VariableStatement:
		for _, e := range n.List {
			if be, ok := e.(*ast.Binding); ok {
				w.walkExpression(be.Initializer, conditional)
			}
		}
	case *ast.FunctionDeclaration:
		if n.Function != nil {
			w.walkStatement(n.Function.Body, conditional)
		}
	case *ast.LabelledStatement:
		w.walkStatement(n.Statement, conditional)
	}
}

func (w *questWalker) walkExpression(e ast.Expression, conditional bool) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *ast.CallExpression:
		if method, ok := questMethodName(n.Callee); ok {
			*w.out = append(*w.out, questCall{method: method, args: n.ArgumentList, conditional: conditional})
		}
		for _, a := range n.ArgumentList {
			w.walkExpression(a, conditional)
		}
		w.walkExpression(n.Callee, conditional)
	case *ast.ConditionalExpression:
		w.walkExpression(n.Test, conditional)
		w.walkExpression(n.Consequent, true)
		w.walkExpression(n.Alternate, true)
	case *ast.BinaryExpression:
		op := n.Operator.String()
		childConditional := conditional || op == "&&" || op == "||"
		w.walkExpression(n.Left, childConditional)
		w.walkExpression(n.Right, childConditional)
	case *ast.AssignExpression:
		w.walkExpression(n.Right, conditional)
	case *ast.SequenceExpression:
		for _, sub := range n.Sequence {
			w.walkExpression(sub, conditional)
		}
	case *ast.FunctionLiteral:
		w.walkStatement(n.Body, conditional)
	case *ast.ArrowFunctionLiteral:
		if body, ok := n.Body.(*ast.BlockStatement); ok {
			w.walkStatement(body, conditional)
		}
	}
}

// questMethodName reports whether callee is shaped quest.<method>.
func questMethodName(callee ast.Expression) (string, bool) {
	dot, ok := callee.(*ast.DotExpression)
	if !ok {
		return "", false
	}
	ident, ok := dot.Left.(*ast.Identifier)
	if !ok || ident.Name.String() != "quest" {
		return "", false
	}
	return dot.Identifier.Name.String(), true
}

func firstArgIsPositiveIntLiteral(args []ast.Expression) bool {
	if len(args) == 0 {
		return false
	}
	lit, ok := args[0].(*ast.NumberLiteral)
	if !ok {
		return false
	}
	f, ok := lit.Value.(float64)
	if !ok {
		return false
	}
	return f > 0 && f == float64(int64(f))
}

func intLiteralValue(arg ast.Expression) int {
	lit, ok := arg.(*ast.NumberLiteral)
	if !ok {
		return 0
	}
	f, _ := lit.Value.(float64)
	return int(f)
}

func anyEventCanHaveTests(m map[string]bool) bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}
