package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fracture-labs/fracture/internal/model"
)

type fakeProtocol struct {
	outcome string
}

func (fakeProtocol) Protocols() []string         { return []string{"http"} }
func (fakeProtocol) Name() string                { return "fake" }
func (fakeProtocol) Version() string             { return "1.0.0" }
func (fakeProtocol) SupportedAuthTypes() []string { return nil }
func (fakeProtocol) StrictAuthList() bool        { return false }
func (fakeProtocol) Events() []EventDef          { return nil }
func (fakeProtocol) ProtocolAPIProvider(ctx *ExecutionContext) any { return nil }
func (fakeProtocol) Validate(req model.Request, opts RuntimeOptions) ValidationResult {
	return ValidationResult{Valid: true}
}
func (f fakeProtocol) Execute(req model.Request, ctx *ExecutionContext, opts RuntimeOptions, emit EmitEventFunc) (*ProtocolResponse, error) {
	outcome := f.outcome
	if outcome == "" {
		outcome = "success"
	}
	return &ProtocolResponse{Summary: ResponseSummary{Outcome: outcome, Code: 200}}, nil
}

func oneRequestCollection() model.Collection {
	return model.Collection{
		Info:     model.Info{ID: "c1", Name: "Demo"},
		Protocol: "http",
		Items: []model.Item{
			{Request: &model.Request{
				ID: "r1",
				Data: model.RequestData{
					URL: "/ping",
					Scripts: []model.EventScript{},
				},
				PostRequestScript: `quest.test("ok", function() { return true; });`,
			}},
		},
	}
}

func TestSchedulerRunSucceeds(t *testing.T) {
	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	result, err := sched.Run(oneRequestCollection(), RuntimeOptions{})
	require.NoError(t, err)
	require.Len(t, result.RequestResults, 1)
	assert.Equal(t, 1, result.TotalTests)
	assert.Equal(t, 1, result.PassedTests)
	assert.False(t, result.Aborted)
}

func TestSchedulerRunAbortsOnValidationFailure(t *testing.T) {
	coll := oneRequestCollection()
	coll.Info.ID = "" // required field missing -> schema validation fails before any node runs

	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	result, err := sched.Run(coll, RuntimeOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ValidationErrors)
	assert.Empty(t, result.RequestResults)
}

func TestSchedulerBailStopsAfterFirstFailingTest(t *testing.T) {
	coll := model.Collection{
		Info:     model.Info{ID: "c1", Name: "Demo"},
		Protocol: "http",
		Items: []model.Item{
			{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/a"},
				PostRequestScript: `quest.test("fails", function() { return false; });`}},
			{Request: &model.Request{ID: "r2", Data: model.RequestData{URL: "/b"},
				PostRequestScript: `quest.test("never runs", function() { return true; });`}},
		},
	}
	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	result, err := sched.Run(coll, RuntimeOptions{Execution: ExecutionOptions{Bail: true}})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, result.FailedTests)
}

func TestSchedulerCountsTestsFromCollectionAndFolderPost(t *testing.T) {
	coll := model.Collection{
		Info:       model.Info{ID: "c1", Name: "Demo"},
		Protocol:   "http",
		PostScript: `quest.test("c", function() { return true; });`,
		Items: []model.Item{
			{Folder: &model.Folder{
				ID:         "f1",
				PostScript: `quest.test("f", function() { return true; });`,
				Items: []model.Item{
					{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/a"},
						PostRequestScript: `quest.test("r", function() { return true; });`}},
				},
			}},
		},
	}
	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	result, err := sched.Run(coll, RuntimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalTests)
	assert.Equal(t, 3, result.PassedTests)
}

func TestSchedulerNestedFolderSkipPropagatesToGrandchildren(t *testing.T) {
	coll := model.Collection{
		Info:     model.Info{ID: "c1", Name: "Demo"},
		Protocol: "http",
		Items: []model.Item{
			{Folder: &model.Folder{
				ID:        "outer",
				Condition: "false",
				Items: []model.Item{
					{Folder: &model.Folder{
						ID: "inner", // no condition of its own
						Items: []model.Item{
							{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/a"},
								PostRequestScript: `quest.test("never runs", function() { return true; });`}},
						},
					}},
				},
			}},
		},
	}
	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	result, err := sched.Run(coll, RuntimeOptions{})
	require.NoError(t, err)
	require.Len(t, result.RequestResults, 1)
	assert.Equal(t, "Skipped by condition", result.RequestResults[0].ScriptError)
	assert.Equal(t, 0, result.TotalTests)
}

func TestSchedulerDataDrivenRunsOneIterationPerRow(t *testing.T) {
	coll := model.Collection{
		Info:     model.Info{ID: "c1", Name: "Demo"},
		Protocol: "http",
		Items: []model.Item{
			{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/{{id}}"}}},
		},
	}
	sched := NewScheduler(fakeProtocol{}, map[string]AuthPlugin{}, nil, nil)
	opts := RuntimeOptions{Data: []map[string]any{{"id": "1"}, {"id": "2"}}}
	result, err := sched.Run(coll, opts)
	require.NoError(t, err)
	assert.Len(t, result.RequestResults, 2)
}
