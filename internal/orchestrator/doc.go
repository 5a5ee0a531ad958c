// Package orchestrator продвигает процессы по графу шаблона.
//
// Orchestrator отвечает за:
//   - Проход по очереди под эксклюзивной TTL-блокировкой (Orchestrate)
//   - Вызов handler'а задачи и обработку CONTINUE / SUSPEND / ERROR
//   - Создание записей для следующих узлов, включая join-узлы
//   - Завершение процесса, когда все записи в терминальном статусе
//   - Синхронные операции: NewProcess, CompleteTask, SetTaskStatus, CancelProcess
//
// Внутри прохода записи выполняются строго последовательно.
// CompleteTask работает вне блокировки, но переводит запись условным
// обновлением, которое применяется только к ACTIVE-записи.
package orchestrator
