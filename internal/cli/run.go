package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

var runTier string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <pipeline|auto-approve|release-batch|arbiter-sweep>",
	Short: "Enqueue a one-shot pipeline job",
	Long: `Run enqueues a single job without waiting for the cron schedule.
A serve process must be running to pick it up.

Example:
  regstream run pipeline
  regstream run pipeline --tier CRITICAL
  regstream run arbiter-sweep`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runTier, "tier", "", "limit a pipeline run to one source tier (CRITICAL, HIGH, NORMAL)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	var (
		jobType string
		payload any
	)
	switch args[0] {
	case "pipeline":
		jobType = queue.TypePipelineRun
		p := queue.PipelineRunPayload{}
		if runTier != "" {
			p.Tiers = []model.PriorityTier{model.PriorityTier(runTier)}
		}
		payload = p
	case "auto-approve":
		jobType = queue.TypeAutoApprove
	case "release-batch":
		jobType = queue.TypeReleaseBatch
	case "arbiter-sweep":
		jobType = queue.TypeArbiterSweep
	default:
		return fmt.Errorf("unknown job %q", args[0])
	}

	client := queue.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Queues)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := client.Enqueue(ctx, jobType, payload)
	if err != nil {
		return err
	}
	fmt.Printf("queued %s (job id %s)\n", jobType, id)
	return nil
}
