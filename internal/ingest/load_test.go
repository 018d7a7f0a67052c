package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCollectionDispatchesByFilename(t *testing.T) {
	raw := []byte(`{
		"info": {"name": "From postman"},
		"item": []
	}`)
	coll, err := LoadCollection("my-postman_collection.json", raw)
	require.NoError(t, err)
	assert.Equal(t, "From postman", coll.Info.Name)
}

func TestLoadCollectionDispatchesByOpenAPIContent(t *testing.T) {
	raw := []byte(`{"openapi": "3.0.0", "info": {"title": "Widgets API", "version": "1.0.0"}, "paths": {}}`)
	coll, err := LoadCollection("widgets.json", raw)
	require.NoError(t, err)
	assert.Equal(t, "Widgets API", coll.Info.Name)
}

func TestLoadCollectionFallsBackToNative(t *testing.T) {
	raw := []byte(`
info:
  id: c1
  name: Demo
protocol: http
items: []
`)
	coll, err := LoadCollection("demo.yaml", raw)
	require.NoError(t, err)
	assert.Equal(t, "Demo", coll.Info.Name)
	assert.Equal(t, "http", coll.Protocol)
}

func TestLoadIterationDataJSON(t *testing.T) {
	rows, err := LoadIterationData([]byte(`[{"id": 1}, {"id": 2}]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["id"])
}

func TestLoadIterationDataYAML(t *testing.T) {
	rows, err := LoadIterationData([]byte("- id: 1\n- id: 2\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 2, rows[1]["id"])
}

func TestLoadIterationDataInvalid(t *testing.T) {
	_, err := LoadIterationData([]byte(`[{"id": }]`))
	assert.Error(t, err)
}
