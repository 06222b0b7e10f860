package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/metrics"
)

type fakeDeadLetters struct {
	entries []DeadLetter
	err     error
}

func (f *fakeDeadLetters) Record(ctx context.Context, dl DeadLetter) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, dl)
	return nil
}

// testQueueServer builds a server without starting it; asynq does not touch
// Redis until Start.
func testQueueServer(dead DeadLetterRecorder) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(asynq.RedisClientOpt{Addr: "localhost:6379"},
		config.Default().Queues, logger, metrics.New(), dead)
}

func TestDeadLetterRecordedOnceAcrossThreeAttempts(t *testing.T) {
	dead := &fakeDeadLetters{}
	s := testQueueServer(dead)

	attempt := 0
	s.retryCount = func(context.Context) (int, bool) { return attempt, true }
	s.maxRetry = func(context.Context) (int, bool) { return 2, true }

	payload := []byte(`{"evidence_id":"4f9c2d58-0000-0000-0000-000000000001"}`)
	handler := s.instrument(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return errors.New("model unavailable")
	}))

	task := asynq.NewTask(TypeExtract, payload)
	for attempt = 0; attempt < 3; attempt++ {
		err := handler.ProcessTask(context.Background(), task)
		require.Error(t, err)
		if attempt < 2 {
			assert.Empty(t, dead.entries, "attempt %d still has retries left", attempt)
		}
	}

	require.Len(t, dead.entries, 1)
	entry := dead.entries[0]
	assert.Equal(t, TypeExtract, entry.JobType)
	assert.Equal(t, json.RawMessage(payload), entry.Payload)
	assert.Equal(t, "model unavailable", entry.Error)
	assert.False(t, entry.FailedAt.IsZero())
}

func TestSkipRetryDeadLettersOnFirstAttempt(t *testing.T) {
	dead := &fakeDeadLetters{}
	s := testQueueServer(dead)
	s.retryCount = func(context.Context) (int, bool) { return 0, true }
	s.maxRetry = func(context.Context) (int, bool) { return 2, true }

	handler := s.instrument(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return fmt.Errorf("invalid shape: %w", asynq.SkipRetry)
	}))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeCompose, nil))
	require.Error(t, err)
	require.Len(t, dead.entries, 1)
	assert.Equal(t, TypeCompose, dead.entries[0].JobType)
}

func TestSuccessfulJobIsNotDeadLettered(t *testing.T) {
	dead := &fakeDeadLetters{}
	s := testQueueServer(dead)
	s.retryCount = func(context.Context) (int, bool) { return 2, true }
	s.maxRetry = func(context.Context) (int, bool) { return 2, true }

	handler := s.instrument(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return nil
	}))

	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(TypeReview, nil)))
	assert.Empty(t, dead.entries)
}

func TestFailureWithoutAttemptMetadataIsNotFinal(t *testing.T) {
	dead := &fakeDeadLetters{}
	s := testQueueServer(dead)

	handler := s.instrument(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return errors.New("transient")
	}))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeExtract, nil))
	require.Error(t, err)
	assert.Empty(t, dead.entries)
}

func TestDeadLetterRecordFailureStillFailsJob(t *testing.T) {
	dead := &fakeDeadLetters{err: errors.New("redis down")}
	s := testQueueServer(dead)
	s.retryCount = func(context.Context) (int, bool) { return 2, true }
	s.maxRetry = func(context.Context) (int, bool) { return 2, true }

	handler := s.instrument(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return errors.New("model unavailable")
	}))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeExtract, nil))
	assert.ErrorContains(t, err, "model unavailable")
}
