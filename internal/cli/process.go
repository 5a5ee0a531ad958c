package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProcessCmd создаёт группу команд для управления процессами.
func NewProcessCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manage processes",
	}

	cmd.AddCommand(
		newProcessStartCmd(clientFn, outputFn),
		newProcessListCmd(clientFn, outputFn),
		newProcessShowCmd(clientFn, outputFn),
		newProcessTimelineCmd(clientFn, outputFn),
		newProcessCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func processRow(p ProcessResponse) []string {
	return []string{p.ID, p.TemplateID, strconv.Itoa(p.TemplateVersion), p.Status, p.StartedAt, p.CompletedAt}
}

var processHeaders = []string{"ID", "TEMPLATE", "VERSION", "STATUS", "STARTED", "COMPLETED"}

func newProcessStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var vars []string
	var data string

	cmd := &cobra.Command{
		Use:   "start TEMPLATE_ID",
		Short: "Start a new process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			variables, err := parseAssignments(vars)
			if err != nil {
				return err
			}
			variables, err = mergeJSON(variables, data)
			if err != nil {
				return err
			}

			process, err := clientFn().StartProcess(args[0], StartProcessRequest{
				Version:   version,
				Variables: variables,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process started: %s", process.ID))
			out.Print(processHeaders, [][]string{processRow(*process)}, process)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Template version (latest active if not specified)")
	cmd.Flags().StringSliceVar(&vars, "var", nil, "Initial variable as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "Initial variables as a JSON object")

	return cmd
}

func newProcessListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListProcessesOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			processes, err := clientFn().ListProcesses(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(processes))
			for i, p := range processes {
				rows[i] = processRow(p)
			}

			outputFn().Print(processHeaders, rows, processes)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.TemplateID, "template-id", "", "Filter by template ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (RUNNING, COMPLETE, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newProcessShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PROCESS_ID",
		Short: "Show process details and variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			process, err := clientFn().GetProcess(args[0])
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"ID", process.ID},
				{"Template", fmt.Sprintf("%s v%d", process.TemplateID, process.TemplateVersion)},
				{"Status", process.Status},
				{"Started", process.StartedAt},
			}
			if process.CompletedAt != "" {
				pairs = append(pairs, [2]string{"Completed", process.CompletedAt})
			}

			keys := make([]string, 0, len(process.Variables))
			for k := range process.Variables {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				pairs = append(pairs, [2]string{"var " + k, fmt.Sprint(process.Variables[k])})
			}

			outputFn().Fields(pairs, process)
			return nil
		},
	}
}

func newProcessTimelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline PROCESS_ID",
		Short: "Show process timeline as seen by the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeline, err := clientFn().GetTimeline(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ENTRY_ID", "NODE", "TYPE", "STATUS", "ASSIGNED_TO", "COMPLETED_BY"}
			rows := make([][]string, len(timeline.Items))
			for i, item := range timeline.Items {
				name := item.NodeName
				if name == "" {
					name = item.NodeID
				}
				rows[i] = []string{item.EntryID, name, item.NodeType, item.Display, item.AssignedTo, item.CompletedBy}
			}

			outputFn().Print(headers, rows, timeline)
			return nil
		},
	}
}

func newProcessCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel PROCESS_ID",
		Short: "Cancel a running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			process, err := clientFn().CancelProcess(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process cancelled: %s", process.ID))
			out.Print(processHeaders, [][]string{processRow(*process)}, process)
			return nil
		},
	}
}
