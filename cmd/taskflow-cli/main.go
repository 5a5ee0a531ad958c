// Taskflow CLI — инструмент командной строки для работы
// с шаблонами, процессами и задачами через HTTP API.
//
// Использование:
//
//	taskflow [--api-url URL] [--actor ID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	template     Публикация и список шаблонов
//	process      Запуск, просмотр и отмена процессов
//	task         Просмотр и выполнение задач
//	orchestrate  Внеочередной проход оркестратора
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Taskflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var actor string
	var token string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "taskflow",
		Short:         "Taskflow CLI — workflow engine client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("TASKFLOW_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("TASKFLOW_ACTOR"), "Actor ID sent as X-Actor-ID")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("TASKFLOW_ORCHESTRATE_TOKEN"), "Orchestrate token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client {
		return cli.NewClient(apiURL, cli.WithActor(actor), cli.WithToken(token))
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTemplateCmd(clientFn, outputFn),
		cli.NewProcessCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewOrchestrateCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
