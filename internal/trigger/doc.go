// Package trigger запускает проходы оркестратора по расписанию.
//
// Периодический триггер только один из источников: проходы также запускаются
// после действий пользователя и вручную через API. Все они сходятся
// на общей TTL-блокировке, поэтому параллельный запуск безопасен.
//
// Использование:
//
//	t, err := trigger.New(trigger.Config{
//	    Spec:   "@every 30s",
//	    Runner: orch,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return t.Run(ctx) // блокируется до отмены ctx
package trigger
