// Package cli реализует инструмент командной строки Taskflow.
//
// # Обзор
//
// CLI — клиентская утилита для Taskflow API. Работает через HTTP
// и не импортирует пакеты движка: типы ответов продублированы в client.go.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает DataResponse, ListResponse и ошибки
// (APIError с кодом, сообщением и деталями). Пользователь передаётся
// в заголовке X-Actor-ID, токен прохода — в X-Orchestrate-Token.
//
//	client := cli.NewClient("http://localhost:8080", cli.WithActor("bob"))
//	detail, err := client.GetTask(id)
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	taskflow process list --json | jq .
//
// ## Commands
//
//   - template: list, publish
//   - process: start, list, show, timeline, cancel
//   - task: show, complete, set-status
//   - orchestrate
//
// Группы создаются фабриками (NewTemplateCmd и т.д.), которые принимают
// clientFn и outputFn: Client и Output создаются после разбора PersistentFlags.
//
// Значения KEY=VALUE в --var и --set читаются как YAML-скаляры,
// поэтому amount=120 уходит числом, а approved=true — булевым значением.
package cli
