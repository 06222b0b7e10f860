package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/llm"
)

func TestClassifyNumericThresholdIsLogic(t *testing.T) {
	stub := llm.NewStubPort(nil).
		Respond(llm.TaskClassify, `{"primary_type": "LOGIC", "secondary_types": [], "confidence": 0.93}`)

	c := New(stub)
	result, err := c.Classify(context.Background(),
		"Übersteigt der Umsatz 22.000 Euro, so muss der Unternehmer Umsatzsteuer ausweisen.",
		"https://www.gesetze-im-internet.de/ustg/__19.html", "text/html")
	require.NoError(t, err)
	require.Equal(t, TypeLogic, result.PrimaryType)
	require.Equal(t, []string{ExtractorClaim}, result.SuggestedExtractors)
	require.InDelta(t, 0.93, result.Confidence, 1e-9)
}

func TestClassifyMixedRoutesFourExtractors(t *testing.T) {
	stub := llm.NewStubPort(nil).
		Respond(llm.TaskClassify, `{"primary_type": "MIXED", "secondary_types": ["PROCESS", "REFERENCE"], "confidence": 0.81}`)

	c := New(stub)
	result, err := c.Classify(context.Background(),
		"Schritt 1: Antrag einreichen. Schritt 2: ... Zuständige Kasse: IBAN DE89 3704 0044 0532 0130 00",
		"https://example.org", "text/html")
	require.NoError(t, err)
	require.Equal(t, TypeMixed, result.PrimaryType)
	require.Equal(t,
		[]string{ExtractorClaim, ExtractorProcess, ExtractorReference, ExtractorAsset},
		result.SuggestedExtractors)
}

func TestClassifyRejectsSchemaViolations(t *testing.T) {
	cases := []string{
		`{"primary_type": "SOMETHING", "confidence": 0.5}`,
		`{"confidence": 0.5}`,
		`{"primary_type": "LOGIC", "confidence": 1.7}`,
	}
	for _, response := range cases {
		stub := llm.NewStubPort(nil).Respond(llm.TaskClassify, response)
		_, err := New(stub).Classify(context.Background(), "text", "https://x", "text/html")
		require.Error(t, err, response)
	}
}

func TestClassifyPropagatesPortError(t *testing.T) {
	boom := errors.New("model down")
	stub := llm.NewStubPort(nil).Fail(llm.TaskClassify, boom)
	_, err := New(stub).Classify(context.Background(), "text", "https://x", "text/html")
	require.ErrorIs(t, err, boom)
}

func TestClassifyTruncatesLongText(t *testing.T) {
	stub := llm.NewStubPort(nil).
		Respond(llm.TaskClassify, `{"primary_type": "UNKNOWN", "confidence": 0.2}`)

	long := strings.Repeat("steuerpflichtig ", 10000)
	_, err := New(stub).Classify(context.Background(), long, "https://x", "text/html")
	require.NoError(t, err)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	require.LessOrEqual(t, len(calls[0].UserPrompt), maxPromptChars+512)
}
