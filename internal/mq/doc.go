// Package mq связывает движок с RabbitMQ.
//
// Через брокер идут два потока:
//   - события жизненного цикла (entry.ready, entry.suspended, process.completed, ...)
//     публикуются в topic-обменник taskflow.events, ключ маршрутизации равен типу события;
//   - запросы на внеочередной проход оркестратора публикуются в taskflow.triggers
//     и разбираются демоном taskflow-orchestrator из очереди orchestrate.requests.
//
// Запрос на проход не несёт данных о конкретной записи: он только будит
// демон, а работу выбирает сам проход под общей блокировкой.
// Поэтому потеря или дубль такого сообщения безопасны.
package mq
