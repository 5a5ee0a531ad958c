package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для работы с записями очереди.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"queue"},
		Short:   "Work with queue entries",
	}

	cmd.AddCommand(
		newTaskShowCmd(clientFn, outputFn),
		newTaskCompleteCmd(clientFn, outputFn),
		newTaskSetStatusCmd(clientFn, outputFn),
	)

	return cmd
}

func detailPairs(d *EntryDetail) [][2]string {
	pairs := [][2]string{
		{"ID", d.Entry.ID},
		{"Process", d.Entry.ProcessID},
		{"Node", d.Entry.NodeID},
		{"Type", d.Entry.NodeType},
		{"Status", d.Entry.Status},
		{"Retries", strconv.Itoa(d.Entry.RetryCount)},
	}
	if d.Entry.AssignedTo != "" {
		pairs = append(pairs, [2]string{"Assigned to", d.Entry.AssignedTo})
	}
	if d.Entry.CompletedBy != "" {
		pairs = append(pairs, [2]string{"Completed by", d.Entry.CompletedBy})
	}
	if d.Entry.Error != "" {
		pairs = append(pairs, [2]string{"Error", d.Entry.Error})
	}
	if d.Interactive {
		pairs = append(pairs, [2]string{"Can execute", strconv.FormatBool(d.CanExecute)})
	}
	if d.Form != nil {
		pairs = append(pairs, [2]string{"Form", d.Form.Title})
		for _, f := range d.Form.Fields {
			desc := f.Type
			if f.Required {
				desc += ", required"
			}
			if len(f.Options) > 0 {
				desc += ", one of " + strings.Join(f.Options, "|")
			}
			pairs = append(pairs, [2]string{"  " + f.Name, desc})
		}
		if len(d.Form.Actions) > 0 {
			pairs = append(pairs, [2]string{"Actions", strings.Join(d.Form.Actions, ", ")})
		}
	}
	return pairs
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ENTRY_ID",
		Short: "Show a task with its form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := clientFn().GetTask(args[0])
			if err != nil {
				return err
			}

			outputFn().Fields(detailPairs(detail), detail)
			return nil
		},
	}
}

func newTaskCompleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var fields []string
	var data string

	cmd := &cobra.Command{
		Use:   "complete ENTRY_ID",
		Short: "Submit data for an interactive task",
		Example: `  taskflow --actor bob task complete 7f1c... --set decision=approve --set comment="ok"
  taskflow --actor bob task complete 7f1c... --data '{"decision":"reject"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			submission, err := parseAssignments(fields)
			if err != nil {
				return err
			}
			submission, err = mergeJSON(submission, data)
			if err != nil {
				return err
			}

			detail, err := clientFn().CompleteTask(args[0], submission)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task completed: %s", detail.Entry.ID))
			out.Fields(detailPairs(detail), detail)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fields, "set", nil, "Form field as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "Submission as a JSON object")

	return cmd
}

func newTaskSetStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status ENTRY_ID STATUS",
		Short: "Change task status (READY to retry a failed task, CANCELLED to drop it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			entry, err := clientFn().SetTaskStatus(args[0], strings.ToUpper(args[1]))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s is now %s", entry.ID, entry.Status))
			out.Print(
				[]string{"ID", "NODE", "STATUS", "RETRIES"},
				[][]string{{entry.ID, entry.NodeID, entry.Status, strconv.Itoa(entry.RetryCount)}},
				entry,
			)
			return nil
		},
	}
}
