package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fracture-labs/fracture/internal/model"
)

func baseValidCollection() model.Collection {
	return model.Collection{
		Info:     model.Info{ID: "c1", Name: "Demo"},
		Protocol: "http",
		Items: []model.Item{
			{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/a"}}},
		},
	}
}

func TestCollectionValidatorAcceptsValidCollection(t *testing.T) {
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(baseValidCollection(), RuntimeOptions{})
	assert.Empty(t, errs)
}

func TestCollectionValidatorFlagsMissingRequiredFields(t *testing.T) {
	coll := baseValidCollection()
	coll.Info.ID = ""
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	require.NotEmpty(t, errs)
	assert.Equal(t, "schema", errs[0].Source)
}

func TestCollectionValidatorAcceptsSemVerVersion(t *testing.T) {
	coll := baseValidCollection()
	coll.Info.Version = "1.2.3"
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	assert.Empty(t, errs)
}

func TestCollectionValidatorRejectsNonSemVerVersion(t *testing.T) {
	coll := baseValidCollection()
	coll.Info.Version = "not-a-version"
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "not a semantic version")
}

func TestCollectionValidatorFlagsDuplicateItemIDs(t *testing.T) {
	coll := baseValidCollection()
	coll.Items = append(coll.Items, model.Item{Request: &model.Request{ID: "r1", Data: model.RequestData{URL: "/b"}}})
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	found := false
	for _, e := range errs {
		if e.Message == `duplicate item id "r1"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCollectionValidatorFlagsUnknownAuthType(t *testing.T) {
	coll := baseValidCollection()
	coll.Auth = &model.Auth{Type: "unknown-scheme"}
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	require.Len(t, errs, 1)
	assert.Equal(t, "auth", errs[0].Source)
}

func TestCollectionValidatorInheritAndNoneAuthSkipped(t *testing.T) {
	coll := baseValidCollection()
	coll.Auth = &model.Auth{Type: model.AuthNone}
	v := NewCollectionValidator(fakeProtocol{}, map[string]AuthPlugin{})
	errs := v.Validate(coll, RuntimeOptions{})
	assert.Empty(t, errs)
}
