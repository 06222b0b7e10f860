package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	doc, err := extractJSON(`{"a": 1, "b": "x"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":"x"}`, string(doc))
}

func TestExtractJSONFenced(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"primary_type\": \"LOGIC\"}\n```\nDone."
	doc, err := extractJSON(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"primary_type":"LOGIC"}`, string(doc))
}

func TestExtractJSONNestedBracesInStrings(t *testing.T) {
	raw := `{"quote": "Art. 3 {Abs. 1} gilt", "n": {"x": "}"}}`
	doc, err := extractJSON(raw)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(doc, &v))
	require.Equal(t, "Art. 3 {Abs. 1} gilt", v["quote"])
}

func TestExtractJSONArray(t *testing.T) {
	doc, err := extractJSON(`The claims: [{"who": "employer"}]`)
	require.NoError(t, err)
	require.JSONEq(t, `[{"who":"employer"}]`, string(doc))
}

func TestExtractJSONNoDocument(t *testing.T) {
	_, err := extractJSON("I could not find anything.")
	require.Error(t, err)
}

func TestExtractJSONUnterminated(t *testing.T) {
	_, err := extractJSON(`{"a": 1`)
	require.Error(t, err)
}

func TestStubPortOrderedResponses(t *testing.T) {
	stub := NewStubPort(nil).
		Respond(TaskReview, `{"decision": "MANUAL_REVIEW"}`).
		Respond(TaskReview, `{"decision": "AUTO_APPROVED"}`)

	first, err := stub.CompleteJSON(context.Background(), Request{Task: TaskReview})
	require.NoError(t, err)
	require.JSONEq(t, `{"decision":"MANUAL_REVIEW"}`, string(first))

	second, err := stub.CompleteJSON(context.Background(), Request{Task: TaskReview})
	require.NoError(t, err)
	require.JSONEq(t, `{"decision":"AUTO_APPROVED"}`, string(second))

	// Last response repeats.
	third, err := stub.CompleteJSON(context.Background(), Request{Task: TaskReview})
	require.NoError(t, err)
	require.JSONEq(t, `{"decision":"AUTO_APPROVED"}`, string(third))
}

func TestStubPortUnknownTaskFails(t *testing.T) {
	stub := NewStubPort(nil)
	_, err := stub.CompleteJSON(context.Background(), Request{Task: TaskCompose})
	require.Error(t, err)
}

func TestLimitedPortPassesThroughWithoutBudget(t *testing.T) {
	stub := NewStubPort(nil).Respond(TaskClassify, `{"ok": true}`)
	limited := NewLimitedPort(stub, nil, nil, nil)

	doc, err := limited.CompleteJSON(context.Background(), Request{Task: TaskClassify})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(doc))
	require.Len(t, stub.Calls(), 1)
}

func TestLimitedPortPropagatesProviderError(t *testing.T) {
	boom := errors.New("model unavailable")
	stub := NewStubPort(nil).Fail(TaskCompose, boom)
	limited := NewLimitedPort(stub, nil, nil, nil)

	_, err := limited.CompleteJSON(context.Background(), Request{Task: TaskCompose})
	require.ErrorIs(t, err, boom)
}
