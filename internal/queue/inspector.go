package queue

import (
	"github.com/hibiken/asynq"
)

// Stats summarizes one queue for the status endpoint and the watchdog.
type Stats struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Failed  int `json:"failed"`
}

// AllQueues lists every queue the pipeline uses.
func AllQueues() []string {
	return []string{
		QueueDiscover, QueueExtract, QueueCompose,
		QueueReview, QueueArbiter, QueueRelease, QueueScheduled,
	}
}

// Inspector reads live queue depths from Redis.
type Inspector struct {
	insp *asynq.Inspector
}

// NewInspector builds an inspector on the shared Redis options.
func NewInspector(redisOpt asynq.RedisClientOpt) *Inspector {
	return &Inspector{insp: asynq.NewInspector(redisOpt)}
}

// Close releases the inspector's connection.
func (i *Inspector) Close() error { return i.insp.Close() }

// QueueStats reports waiting/active/failed per queue. Queues asynq has not
// seen yet report zeros.
func (i *Inspector) QueueStats() map[string]Stats {
	out := make(map[string]Stats, len(AllQueues()))
	for _, name := range AllQueues() {
		info, err := i.insp.GetQueueInfo(name)
		if err != nil {
			out[name] = Stats{}
			continue
		}
		out[name] = Stats{
			Waiting: info.Pending + info.Scheduled + info.Retry,
			Active:  info.Active,
			Failed:  info.Archived,
		}
	}
	return out
}
