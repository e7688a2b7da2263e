package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationResultWireShape(t *testing.T) {
	r := NewOperationResult()
	r.Append("Create new project demo in teams for alice", json.RawMessage(`{"id": 7, "name": "demo"}`))
	r.AppendMessage("delete branch alice in project demo", NothingToDo)
	r.AppendError("Project %s not found", "teams/ghost")

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"Create new project demo in teams for alice": {"id": 7, "name": "demo"}},
		{"delete branch alice in project demo": "Nothing to do"},
		{"Error": "Project teams/ghost not found"}
	]`, string(data))

	var decoded OperationResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Labels(), decoded.Labels())
	assert.True(t, decoded.Entries()[2].IsError())
	assert.Equal(t, NothingToDo, decoded.Entries()[1].Message)
	assert.JSONEq(t, `{"id": 7, "name": "demo"}`, string(decoded.Entries()[0].Payload))
}

func TestEmptyOperationResultMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(NewOperationResult())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = json.Marshal(struct {
		Log *OperationResult `json:"log"`
	}{Log: &OperationResult{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"log": []}`, string(data))
}

func TestOperationResultObserverAndCopy(t *testing.T) {
	r := NewOperationResult()
	var seen []string
	r.OnAppend(func(e ResultEntry) { seen = append(seen, e.Label) })

	r.AppendMessage("a", "x")
	r.AppendMessage("b", "y")
	assert.Equal(t, []string{"a", "b"}, seen)

	entries := r.Entries()
	entries[0].Label = "changed"
	assert.Equal(t, []string{"a", "b"}, r.Labels())
	assert.Equal(t, 2, r.Len())
}

func TestResultEntryRejectsMultipleKeys(t *testing.T) {
	var e ResultEntry
	assert.Error(t, json.Unmarshal([]byte(`{"a": 1, "b": 2}`), &e))
}
