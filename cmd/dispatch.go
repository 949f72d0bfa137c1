package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	envTaskTTL       = "NETAGENT_TASK_TTL"
	envSweepInterval = "NETAGENT_SWEEP_INTERVAL"
)

func newDispatchCmd() *cobra.Command {
	var (
		flagDevices     string
		flagConcurrency int
		flagPoll        time.Duration
		flagJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch <command>",
		Short: "Run a batch command as an asynchronous task and poll it",
		Long:  "Submits the batch through the task registry, streams progress while it runs, and prints the final result when the task reaches a terminal state.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator(flagConcurrency)
			if err != nil {
				return err
			}
			defer orch.Pool().Close()

			registry := netagent.NewTaskRegistry(
				config.Duration(envTaskTTL, 0),
				config.Duration(envSweepInterval, 0),
			)
			group := netagent.NewSafeGroup(cmd.Context())
			group.GoSafe("registry-sweep", registry.Run)

			input := strings.Join(args, " ")
			if trimmed := strings.TrimSpace(flagDevices); trimmed != "" {
				input = trimmed + ": " + input
			}
			tool := netagent.NewBatchTool(orch, registry)
			id, err := tool.Dispatch(input)
			if err != nil {
				return err
			}
			log.Info().Str("task_id", id).Msg("batch task submitted")

			task, err := pollTask(group.Context(), registry, id, flagPoll)
			if err != nil {
				return err
			}
			return printTask(task, flagJSON)
		},
	}

	cmd.Flags().StringVar(&flagDevices, "devices", "", "Comma-separated device addresses (default: all inventory devices)")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Worker pool size (default 5)")
	cmd.Flags().DurationVar(&flagPoll, "poll", time.Second, "Task poll interval")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the machine-readable result projection")
	return cmd
}

func pollTask(ctx context.Context, registry *netagent.TaskRegistry, id string, interval time.Duration) (netagent.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastPct := -1
	for {
		select {
		case <-ctx.Done():
			_ = registry.Cancel(id, "interrupted")
			registry.Wait()
			return netagent.Task{}, ctx.Err()
		case <-ticker.C:
			task, ok := registry.Get(id)
			if !ok {
				return netagent.Task{}, errors.Errorf("task %s disappeared from the registry", id)
			}
			if task.Status.Terminal() {
				return task, nil
			}
			if task.Progress.Percent != lastPct {
				lastPct = task.Progress.Percent
				log.Info().
					Int("percent", task.Progress.Percent).
					Str("stage", task.Progress.Stage).
					Msg("batch task progress")
			}
		}
	}
}

func printTask(task netagent.Task, asJSON bool) error {
	switch task.Status {
	case netagent.TaskStatusFailed:
		return errors.Errorf("task %s failed: %s", task.ID, task.Error)
	case netagent.TaskStatusCancelled:
		return errors.Errorf("task %s cancelled: %s", task.ID, task.CancelReason)
	}
	result, ok := task.Result.(*netagent.BatchResult)
	if !ok {
		return errors.Errorf("task %s completed without a batch result", task.ID)
	}
	if asJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}
	printResult(result)
	return nil
}
