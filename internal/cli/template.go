package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTemplateCmd создаёт группу команд для управления шаблонами.
func NewTemplateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage process templates",
	}

	cmd.AddCommand(
		newTemplateListCmd(clientFn, outputFn),
		newTemplatePublishCmd(clientFn, outputFn),
	)

	return cmd
}

func newTemplateListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates (latest version of each)",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := clientFn().ListTemplates()
			if err != nil {
				return err
			}

			headers := []string{"ID", "VERSION", "NAME", "ACTIVE", "NODES"}
			rows := make([][]string, len(templates))
			for i, t := range templates {
				rows[i] = []string{t.ID, strconv.Itoa(t.Version), t.Name, strconv.FormatBool(t.Active), strconv.Itoa(t.Nodes)}
			}

			outputFn().Print(headers, rows, templates)
			return nil
		},
	}
}

func newTemplatePublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish a template version from a JSON or YAML file",
		Long: `Publish a template version.

The version is stored even when validation fails; in that case it stays
inactive and the diagnostics are printed. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			result, err := clientFn().PublishTemplate(data, contentTypeFor(args[0]))
			if err != nil {
				return err
			}

			if result.Active {
				out.Success(fmt.Sprintf("Template %s v%d published", result.Template.ID, result.Template.Version))
			} else {
				out.Success(fmt.Sprintf("Template %s v%d stored inactive: validation failed", result.Template.ID, result.Template.Version))
			}

			headers := []string{"SEVERITY", "NODE", "FIELD", "MESSAGE"}
			rows := make([][]string, len(result.Diagnostics))
			for i, d := range result.Diagnostics {
				rows[i] = []string{d.Severity, d.NodeID, d.Field, d.Message}
			}
			if len(rows) > 0 || out.jsonMode {
				out.Print(headers, rows, result)
			}
			return nil
		},
	}
}

// contentTypeFor выбирает Content-Type по расширению файла.
// Stdin и неизвестные расширения отправляются как YAML: JSON — подмножество YAML.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	default:
		return "application/yaml"
	}
}
