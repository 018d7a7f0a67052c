package engine

import (
	"fmt"

	"github.com/fracture-labs/fracture/internal/model"
)

// TaskNodeKind names the four node shapes a collection tree compiles to.
type TaskNodeKind string

const (
	NodeCollectionScript TaskNodeKind = "collectionScript"
	NodeFolderEnter      TaskNodeKind = "folderEnter"
	NodeFolderExit       TaskNodeKind = "folderExit"
	NodeRequest          TaskNodeKind = "request"
)

// TaskEdgeKind distinguishes why two nodes are ordered relative to one
// another; the scheduler treats all three the same way (in-degree draining)
// but DESIGN.md and diagnostics care which rule produced the edge.
type TaskEdgeKind string

const (
	EdgeStructural TaskEdgeKind = "structural"
	EdgeDependsOn  TaskEdgeKind = "dependsOn"
)

// TaskNode is one unit of scheduling: a folder boundary, a request, or a
// collection-level pre/post script.
type TaskNode struct {
	ID         string
	Kind       TaskNodeKind
	FolderID   string // set for FolderEnter/FolderExit
	RequestID  string // set for NodeRequest
	Request    *model.Request
	Folder     *model.Folder
	ParentPath string // dotted folder path, for diagnostics
	Condition  string
	Script     string // populated for NodeCollectionScript nodes

	// EffectiveAuth is the nearest non-inherit ancestor's auth (request/
	// folder nodes only); InheritedPreScripts/InheritedPostScripts are the
	// cumulative preRequestScript/postRequestScript chain from collection
	// down to (but excluding) this item's own script (spec.md §4.4: "pre
	// outermost->innermost, post innermost->outermost").
	EffectiveAuth        *model.Auth
	InheritedPreScripts  []string
	InheritedPostScripts []string
}

// TaskEdge orders From before To.
type TaskEdge struct {
	From, To string
	Kind     TaskEdgeKind
}

// TaskGraph is the compiled DAG of one collection, plus the indices the
// scheduler needs to drain it without repeated linear scans.
type TaskGraph struct {
	Nodes map[string]*TaskNode
	Edges []TaskEdge

	// DroppedDependsOn lists dependsOn ids that named no folder or request in
	// this collection (spec.md §4.4: "a missing depId is logged and skipped,
	// supports filtered runs"). The caller decides how to surface it.
	DroppedDependsOn []string

	dependentsByNodeID  map[string][]string
	inDegreeByNodeID    map[string]int
	parentFolderByNode  map[string]string // nodeID -> enclosing folderEnter id ("" for root)
	childrenByFolderID  map[string][]string

	order []string // insertion order, for deterministic ready-set iteration
}

// pendingDep is a dependsOn reference recorded during the tree walk and
// resolved to a real node id only after the whole tree is known, since a
// dependsOn target may be declared later in document order than its
// dependent.
type pendingDep struct {
	rawID string
	toID  string
}

// BuildTaskGraph compiles a Collection's item tree into a TaskGraph following
// spec.md §3's node/edge construction rules:
//   - each Folder compiles to a FolderEnter/FolderExit pair bracketing its
//     children in structural (sibling/parent-child) order;
//   - each Request compiles to one Request node;
//   - dependsOn entries add an extra edge from the named node(s) to this one,
//     in addition to (never instead of) the structural edge from its
//     preceding sibling or enclosing folder boundary.
func BuildTaskGraph(coll model.Collection) (*TaskGraph, error) {
	g := &TaskGraph{
		Nodes:              make(map[string]*TaskNode),
		dependentsByNodeID: make(map[string][]string),
		inDegreeByNodeID:   make(map[string]int),
		parentFolderByNode: make(map[string]string),
		childrenByFolderID: make(map[string][]string),
	}

	addNode := func(n *TaskNode) error {
		if _, exists := g.Nodes[n.ID]; exists {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.Nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		g.inDegreeByNodeID[n.ID] = 0
		return nil
	}

	addEdge := func(from, to string, kind TaskEdgeKind) {
		g.Edges = append(g.Edges, TaskEdge{From: from, To: to, Kind: kind})
		g.dependentsByNodeID[from] = append(g.dependentsByNodeID[from], to)
		g.inDegreeByNodeID[to]++
	}

	var pending []pendingDep

	var walk func(items []model.Item, parentFolderID, parentPath string, prev *string, auth *model.Auth, pre, post []string) error
	walk = func(items []model.Item, parentFolderID, parentPath string, prev *string, auth *model.Auth, pre, post []string) error {
		for _, item := range items {
			switch {
			case item.IsFolder():
				f := item.Folder
				enterID := "folderEnter:" + f.ID
				exitID := "folderExit:" + f.ID
				effAuth := resolveAuth(auth, f.Auth)
				effPre := appendScript(pre, f.PreRequestScript)
				effPost := prependScript(post, f.PostRequestScript)
				if err := addNode(&TaskNode{ID: enterID, Kind: NodeFolderEnter, FolderID: f.ID, Folder: f, ParentPath: parentPath, Condition: f.Condition, EffectiveAuth: effAuth, InheritedPreScripts: effPre, InheritedPostScripts: effPost}); err != nil {
					return err
				}
				if err := addNode(&TaskNode{ID: exitID, Kind: NodeFolderExit, FolderID: f.ID, Folder: f, ParentPath: parentPath, EffectiveAuth: effAuth}); err != nil {
					return err
				}
				g.parentFolderByNode[enterID] = parentFolderID
				g.parentFolderByNode[exitID] = parentFolderID
				if parentFolderID != "" {
					g.childrenByFolderID[parentFolderID] = append(g.childrenByFolderID[parentFolderID], enterID)
				}
				linkStructural(g, addEdge, prev, enterID)
				for _, dep := range f.DependsOn {
					pending = append(pending, pendingDep{rawID: dep, toID: enterID})
				}
				childPrev := &enterID
				if err := walk(f.Items, f.ID, parentPath+"/"+f.Name, childPrev, effAuth, effPre, effPost); err != nil {
					return err
				}
				// Close the folder: exit depends on enter and on the last
				// child processed (childPrev may have advanced).
				addEdge(enterID, exitID, EdgeStructural)
				if *childPrev != enterID {
					addEdge(*childPrev, exitID, EdgeStructural)
				}
				if parentFolderID != "" {
					g.childrenByFolderID[parentFolderID] = append(g.childrenByFolderID[parentFolderID], exitID)
				}
				*prev = exitID
			default:
				r := item.Request
				id := "request:" + r.ID
				effAuth := resolveAuth(auth, r.Auth)
				if err := addNode(&TaskNode{ID: id, Kind: NodeRequest, RequestID: r.ID, Request: r, ParentPath: parentPath, Condition: r.Condition, EffectiveAuth: effAuth, InheritedPreScripts: pre, InheritedPostScripts: post}); err != nil {
					return err
				}
				g.parentFolderByNode[id] = parentFolderID
				if parentFolderID != "" {
					g.childrenByFolderID[parentFolderID] = append(g.childrenByFolderID[parentFolderID], id)
				}
				linkStructural(g, addEdge, prev, id)
				for _, dep := range r.DependsOn {
					pending = append(pending, pendingDep{rawID: dep, toID: id})
				}
				*prev = id
			}
		}
		return nil
	}

	// Two anchor nodes always exist, even with blank scripts, acting as
	// graph boundaries (spec: "even if blank; they act as graph boundaries").
	const preID = "collectionScript:pre"
	const postID = "collectionScript:post"
	if err := addNode(&TaskNode{ID: preID, Kind: NodeCollectionScript, ParentPath: coll.Info.Name, Script: coll.PreScript}); err != nil {
		return nil, err
	}
	if err := addNode(&TaskNode{ID: postID, Kind: NodeCollectionScript, ParentPath: coll.Info.Name, Script: coll.PostScript}); err != nil {
		return nil, err
	}

	root := new(string)
	*root = preID
	rootAuth := coll.Auth
	rootPre := appendScript(nil, coll.PreRequestScript)
	rootPost := prependScript(nil, coll.PostRequestScript)
	if err := walk(coll.Items, "", coll.Info.Name, root, rootAuth, rootPre, rootPost); err != nil {
		return nil, err
	}
	linkStructural(g, addEdge, root, postID)

	for _, pd := range pending {
		fromID, err := g.resolveDepNodeID(pd.rawID)
		if err != nil {
			// Missing depId: log-and-skip rather than fail the build, so a
			// filtered run (some items removed) doesn't abort the rest.
			g.DroppedDependsOn = append(g.DroppedDependsOn, pd.rawID)
			continue
		}
		addEdge(fromID, pd.toID, EdgeDependsOn)
	}

	return g, nil
}

// resolveDepNodeID maps a bare dependsOn id (naming a folder or a request)
// to the node that satisfies it: a folder dependency is satisfied by that
// folder's exit (all descendants complete), a request dependency by the
// request node itself.
func (g *TaskGraph) resolveDepNodeID(id string) (string, error) {
	if _, ok := g.Nodes["request:"+id]; ok {
		return "request:" + id, nil
	}
	if _, ok := g.Nodes["folderExit:"+id]; ok {
		return "folderExit:" + id, nil
	}
	return "", fmt.Errorf("unknown dependsOn target id %q", id)
}

// linkStructural adds the sibling/parent-chain structural edge from prev (if
// any) to next, then advances *prev.
func linkStructural(g *TaskGraph, addEdge func(from, to string, kind TaskEdgeKind), prev *string, next string) {
	if prev != nil && *prev != "" {
		addEdge(*prev, next, EdgeStructural)
	}
	if prev != nil {
		*prev = next
	}
}

// ReadyNodes returns every node whose in-degree is currently zero and that
// has not yet been marked complete, in graph insertion order for
// determinism.
func (g *TaskGraph) ReadyNodes(done map[string]bool) []*TaskNode {
	var ready []*TaskNode
	for _, id := range g.order {
		if done[id] {
			continue
		}
		if g.inDegreeByNodeID[id] == 0 {
			ready = append(ready, g.Nodes[id])
		}
	}
	return ready
}

// CompleteNode marks id done and decrements in-degree on its dependents,
// returning the set of dependents newly unblocked to zero.
func (g *TaskGraph) CompleteNode(id string) []string {
	var unblocked []string
	for _, dep := range g.dependentsByNodeID[id] {
		g.inDegreeByNodeID[dep]--
		if g.inDegreeByNodeID[dep] == 0 {
			unblocked = append(unblocked, dep)
		}
	}
	return unblocked
}

// ParentFolder returns the enclosing folderEnter node id for id, or "" at
// collection root.
func (g *TaskGraph) ParentFolder(id string) string {
	return g.parentFolderByNode[id]
}

// Children returns the direct child node ids of a folderEnter id, in order.
func (g *TaskGraph) Children(folderEnterID string) []string {
	return g.childrenByFolderID[folderEnterID]
}

// resolveAuth threads the effective auth down the tree: "inherit" (or unset)
// keeps the ancestor's auth, "none" clears it, anything else overrides.
func resolveAuth(ancestor, own *model.Auth) *model.Auth {
	if own == nil || own.Type == model.AuthInherit {
		return ancestor
	}
	if own.Type == model.AuthNone {
		return nil
	}
	return own
}

// appendScript grows the outer->inner pre-script chain.
func appendScript(chain []string, script string) []string {
	if script == "" {
		return chain
	}
	return append(append([]string(nil), chain...), script)
}

// prependScript grows the inner->outer post-script chain so the nearest
// ancestor's post-script runs first (LIFO with respect to pre).
func prependScript(chain []string, script string) []string {
	if script == "" {
		return chain
	}
	return append([]string{script}, chain...)
}

// Len reports the total node count.
func (g *TaskGraph) Len() int { return len(g.Nodes) }
