package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewOrchestrateCmd создаёт команду запуска прохода оркестратора.
// Токен передаётся глобальным флагом --token или TASKFLOW_ORCHESTRATE_TOKEN.
func NewOrchestrateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate",
		Short: "Run an orchestrator pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			result, err := clientFn().Orchestrate()
			if err != nil {
				return err
			}

			if !result.Acquired {
				out.Success("Another pass is already running")
			}
			out.Print(
				[]string{"ACQUIRED", "PROCESSED", "YIELDED"},
				[][]string{{strconv.FormatBool(result.Acquired), strconv.Itoa(result.Processed), strconv.FormatBool(result.Yielded)}},
				result,
			)
			return nil
		},
	}
}
