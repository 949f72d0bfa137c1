package main

import (
	"fmt"
	"strings"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/pkg/assist"
	"github.com/spf13/cobra"
)

func newAssistCmd() *cobra.Command {
	var flagConcurrency int

	cmd := &cobra.Command{
		Use:   "assist <question>",
		Short: "Ask a language model about the fleet",
		Long:  "Sends the question to an OpenAI model that can run read-only batch commands against the inventory and summarizes the answer.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator(flagConcurrency)
			if err != nil {
				return err
			}
			defer orch.Pool().Close()

			assistant, err := assist.NewFromEnv(netagent.NewBatchTool(orch, nil))
			if err != nil {
				return err
			}
			answer, err := assistant.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}

	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Worker pool size for tool-invoked batches")
	return cmd
}
