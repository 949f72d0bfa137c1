package main

import (
	"fmt"
	"strings"

	netagent "github.com/fleetops/netagent"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <command>",
		Short: "Check a command against the read-only policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			ok, reason := netagent.NewCommandValidator().Validate(command)
			if !ok {
				return fmt.Errorf("denied: %s", reason)
			}
			fmt.Println("permitted")
			return nil
		},
	}
}
