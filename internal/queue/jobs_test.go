package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/model"
)

func TestQueueForCoversEveryJobType(t *testing.T) {
	types := []string{
		TypePipelineRun, TypeDiscover, TypeExtract, TypeCompose,
		TypeReview, TypeArbitrate, TypeRelease,
		TypeAutoApprove, TypeReleaseBatch, TypeArbiterSweep,
	}
	for _, jobType := range types {
		q, err := QueueFor(jobType)
		require.NoError(t, err, jobType)
		require.NotEmpty(t, q, jobType)
	}

	_, err := QueueFor("pipeline:nope")
	require.Error(t, err)
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	evidenceID := uuid.New()
	data, err := json.Marshal(ExtractPayload{EvidenceID: evidenceID})
	require.NoError(t, err)

	decoded, err := DecodePayload(TypeExtract, data)
	require.NoError(t, err)
	require.Equal(t, ExtractPayload{EvidenceID: evidenceID}, decoded)
}

func TestDecodePayloadCompose(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	data, err := json.Marshal(ComposePayload{Domain: "www.zoll.de", ClaimIDs: ids})
	require.NoError(t, err)

	decoded, err := DecodePayload(TypeCompose, data)
	require.NoError(t, err)
	p, ok := decoded.(ComposePayload)
	require.True(t, ok)
	require.Equal(t, "www.zoll.de", p.Domain)
	require.Equal(t, ids, p.ClaimIDs)
}

func TestDecodePayloadDiscoverTier(t *testing.T) {
	data, err := json.Marshal(DiscoverPayload{Tier: model.TierCritical})
	require.NoError(t, err)

	decoded, err := DecodePayload(TypeDiscover, data)
	require.NoError(t, err)
	require.Equal(t, DiscoverPayload{Tier: model.TierCritical}, decoded)
}

func TestDecodePayloadRejectsUnknownType(t *testing.T) {
	_, err := DecodePayload("nope", []byte(`{}`))
	require.Error(t, err)
}

func TestDecodePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := DecodePayload(TypeExtract, []byte(`{"evidence_id": `))
	require.Error(t, err)
}

func TestWorkerForNames(t *testing.T) {
	require.Equal(t, "sentinel", WorkerFor(TypeDiscover))
	require.Equal(t, "extractor", WorkerFor(TypeExtract))
	require.Equal(t, "composer", WorkerFor(TypeCompose))
	require.Equal(t, "reviewer", WorkerFor(TypeReview))
	require.Equal(t, "arbiter", WorkerFor(TypeArbitrate))
	require.Equal(t, "releaser", WorkerFor(TypeRelease))
	require.Equal(t, "orchestrator", WorkerFor(TypeArbiterSweep))
	require.Equal(t, "unknown", WorkerFor("x"))
}
