package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const deadLetterKey = "regstream:deadletter"

// DeadLetter captures a job that exhausted every attempt, with enough
// context for manual triage.
type DeadLetter struct {
	Queue    string          `json:"queue"`
	JobID    string          `json:"job_id"`
	JobType  string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// DeadLetterStore persists dead letters in a Redis list. Entries never
// expire; triage and cleanup are manual.
type DeadLetterStore struct {
	rdb redis.UniversalClient
}

// NewDeadLetterStore creates the store on an existing Redis client.
func NewDeadLetterStore(rdb redis.UniversalClient) *DeadLetterStore {
	return &DeadLetterStore{rdb: rdb}
}

// Record appends one dead letter.
func (s *DeadLetterStore) Record(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("deadletter: marshal: %w", err)
	}
	if err := s.rdb.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("deadletter: push: %w", err)
	}
	return nil
}

// Depth returns the number of parked jobs.
func (s *DeadLetterStore) Depth(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("deadletter: len: %w", err)
	}
	return n, nil
}

// List returns the most recent n dead letters.
func (s *DeadLetterStore) List(ctx context.Context, n int64) ([]DeadLetter, error) {
	raw, err := s.rdb.LRange(ctx, deadLetterKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: range: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("deadletter: decode: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}
