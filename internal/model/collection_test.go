package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestItemJSONRoundTripFolder(t *testing.T) {
	in := Item{Folder: &Folder{ID: "f1", Name: "Widgets", Items: []Item{}}}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out Item
	require.NoError(t, json.Unmarshal(raw, &out))
	require.True(t, out.IsFolder())
	assert.Equal(t, "f1", out.Folder.ID)
}

func TestItemJSONRoundTripRequest(t *testing.T) {
	in := Item{Request: &Request{ID: "r1", Name: "Get widget", Data: RequestData{URL: "/widgets"}}}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out Item
	require.NoError(t, json.Unmarshal(raw, &out))
	require.False(t, out.IsFolder())
	assert.Equal(t, "r1", out.Request.ID)
}

func TestItemYAMLRoundTrip(t *testing.T) {
	in := Item{Folder: &Folder{ID: "f1", Items: []Item{
		{Request: &Request{ID: "r1", Data: RequestData{URL: "/x"}}},
	}}}
	raw, err := yaml.Marshal(in)
	require.NoError(t, err)

	var out Item
	require.NoError(t, yaml.Unmarshal(raw, &out))
	require.True(t, out.IsFolder())
	require.Len(t, out.Folder.Items, 1)
	assert.Equal(t, "r1", out.Folder.Items[0].Request.ID)
}

func TestRequestCloneIsIndependent(t *testing.T) {
	r := Request{ID: "r1", Data: RequestData{Headers: map[string]string{"X": "1"}}}
	clone := r.Clone()
	clone.Data.Headers["X"] = "2"
	assert.Equal(t, "1", r.Data.Headers["X"])
	assert.Equal(t, "2", clone.Data.Headers["X"])
}
