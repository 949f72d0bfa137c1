package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	netagent "github.com/fleetops/netagent"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		flagDevices     string
		flagConcurrency int
		flagTimeout     time.Duration
		flagJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Run a read-only command across the fleet",
		Long:  "Dispatches one command to the selected devices concurrently and prints the aggregated per-device results.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			orch, err := buildOrchestrator(flagConcurrency)
			if err != nil {
				return err
			}
			defer orch.Pool().Close()

			var targets []string
			if trimmed := strings.TrimSpace(flagDevices); trimmed != "" {
				for _, part := range strings.Split(trimmed, ",") {
					if addr := strings.TrimSpace(part); addr != "" {
						targets = append(targets, addr)
					}
				}
			}

			ctx := cmd.Context()
			if flagTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flagTimeout)
				defer cancel()
			}

			result := orch.RunBatch(ctx, command, targets)
			if flagJSON {
				payload, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDevices, "devices", "", "Comma-separated device addresses (default: all inventory devices)")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Worker pool size (default 5)")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Hard deadline for the whole batch")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the machine-readable result projection")
	return cmd
}

func printResult(result *netagent.BatchResult) {
	if result.BatchError != nil {
		log.Error().
			Str("type", result.BatchError.Detail.Type).
			Str("reason", result.BatchError.Message).
			Msg("batch rejected before dispatch")
		return
	}
	fmt.Printf("command: %s\n", result.Command)
	fmt.Printf("devices: %d total, %d ok, %d failed (%.2fs, cache %d/%d)\n",
		result.TotalDevices, result.SuccessCount(), result.FailureCount(),
		result.Elapsed.Seconds(), result.CacheHits, result.CacheMisses)

	addrs := make([]string, 0, len(result.Outputs))
	for addr := range result.Outputs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		fmt.Printf("\n=== %s ===\n%s\n", addr, strings.TrimRight(result.Outputs[addr], "\n"))
	}

	failed := make([]string, 0, len(result.Failures))
	for addr := range result.Failures {
		failed = append(failed, addr)
	}
	sort.Strings(failed)
	for _, addr := range failed {
		failure := result.Failures[addr]
		fmt.Fprintf(os.Stderr, "\n!!! %s [%s]: %s\n    hint: %s\n",
			addr, failure.Detail.Type, failure.Message, failure.Detail.Suggestion)
	}
}
