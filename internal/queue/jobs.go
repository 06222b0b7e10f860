// Package queue is the durable job runtime for the pipeline. It wraps asynq
// with typed payloads, per-queue rate limits, retry/backoff policy and
// exactly-once dead-letter recording on terminal failure.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// Queue names. Discover and release are processed with concurrency 1 so
// sentinel runs never interleave and the release sequence stays auditable.
const (
	QueueDiscover  = "discover"
	QueueExtract   = "extract"
	QueueCompose   = "compose"
	QueueReview    = "review"
	QueueArbiter   = "arbiter"
	QueueRelease   = "release"
	QueueScheduled = "scheduled"
)

// Job types. Each type carries exactly one payload struct below.
const (
	TypePipelineRun  = "pipeline:run"
	TypeDiscover     = "pipeline:discover"
	TypeExtract      = "pipeline:extract"
	TypeCompose      = "pipeline:compose"
	TypeReview       = "pipeline:review"
	TypeArbitrate    = "pipeline:arbitrate"
	TypeRelease      = "pipeline:release"
	TypeAutoApprove  = "sweep:auto-approve"
	TypeReleaseBatch = "sweep:release-batch"
	TypeArbiterSweep = "sweep:arbiter"
)

// QueueFor maps a job type to the queue it runs on.
func QueueFor(jobType string) (string, error) {
	switch jobType {
	case TypeDiscover:
		return QueueDiscover, nil
	case TypeExtract:
		return QueueExtract, nil
	case TypeCompose:
		return QueueCompose, nil
	case TypeReview:
		return QueueReview, nil
	case TypeArbitrate:
		return QueueArbiter, nil
	case TypeRelease:
		return QueueRelease, nil
	case TypePipelineRun, TypeAutoApprove, TypeReleaseBatch, TypeArbiterSweep:
		return QueueScheduled, nil
	default:
		return "", fmt.Errorf("queue: unknown job type %q", jobType)
	}
}

// PipelineRunPayload kicks a whole pipeline run. Tiers limits which source
// tiers the run kicks; empty means all.
type PipelineRunPayload struct {
	Tiers []model.PriorityTier `json:"tiers,omitempty"`
}

// DiscoverPayload runs the sentinel over one priority tier.
type DiscoverPayload struct {
	Tier model.PriorityTier `json:"tier"`
}

// ExtractPayload classifies and extracts one evidence snapshot.
type ExtractPayload struct {
	EvidenceID uuid.UUID `json:"evidence_id"`
}

// ComposePayload aggregates the claims of one source domain into candidate
// rules. Jobs are delayed by the domain's politeness window at enqueue time.
type ComposePayload struct {
	Domain   string      `json:"domain"`
	ClaimIDs []uuid.UUID `json:"claim_ids"`
}

// ReviewPayload gates one composed rule.
type ReviewPayload struct {
	RuleID uuid.UUID `json:"rule_id"`
}

// ArbitratePayload resolves one open conflict.
type ArbitratePayload struct {
	ConflictID uuid.UUID `json:"conflict_id"`
}

// ReleasePayload publishes a batch of approved rules as one release.
type ReleasePayload struct {
	RuleIDs []uuid.UUID `json:"rule_ids"`
}

// SweepPayload is shared by the parameterless scheduled sweeps.
type SweepPayload struct{}

// DecodePayload decodes a payload by job type. Unknown types and malformed
// payloads are errors, never silently empty structs.
func DecodePayload(jobType string, data []byte) (any, error) {
	var (
		out any
		err error
	)
	switch jobType {
	case TypePipelineRun:
		var p PipelineRunPayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeDiscover:
		var p DiscoverPayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeExtract:
		var p ExtractPayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeCompose:
		var p ComposePayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeReview:
		var p ReviewPayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeArbitrate:
		var p ArbitratePayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeRelease:
		var p ReleasePayload
		err = json.Unmarshal(data, &p)
		out = p
	case TypeAutoApprove, TypeReleaseBatch, TypeArbiterSweep:
		var p SweepPayload
		err = json.Unmarshal(data, &p)
		out = p
	default:
		return nil, fmt.Errorf("queue: unknown job type %q", jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: decode %s payload: %w", jobType, err)
	}
	return out, nil
}

// Payload is implemented by every job payload via encode.
func encode(payload any) ([]byte, error) {
	if payload == nil {
		payload = SweepPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a task payload into the caller's typed struct.
func UnmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("queue: decode payload: %w", err)
	}
	return nil
}
