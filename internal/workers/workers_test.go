package workers

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enqueued struct {
	JobType string
	Payload any
	Opts    int
}

// fakeEnqueuer records every dispatched job.
type fakeEnqueuer struct {
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.EnqueueOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, enqueued{JobType: jobType, Payload: payload, Opts: len(opts)})
	return uuid.NewString(), nil
}

func (f *fakeEnqueuer) byType(jobType string) []enqueued {
	var out []enqueued
	for _, j := range f.jobs {
		if j.JobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

// fakeLease counts releases.
type fakeLease struct{ released int }

func (f *fakeLease) Release(ctx context.Context) error {
	f.released++
	return nil
}

// fakeLocker hands out one lease, or a fixed error.
type fakeLocker struct {
	lease *fakeLease
	err   error
	keys  []string
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}
